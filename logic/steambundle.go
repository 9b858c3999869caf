package logic

import (
	"time"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// SteamBundle modulates a steam heat-exchanger valve around the bundle
// outlet temperature, closing hard when header pressure exceeds the
// safe ceiling.
type SteamBundle struct{}

func (a *SteamBundle) Kind() registry.Kind { return registry.KindSteamBundle }

func (a *SteamBundle) Run(metrics timeseries.MetricSnapshot, settings Settings, controlTemp float64, st *state.UnitState) ([]Result, error) {
	now := time.Now()
	setpoint := settings.Setpoint("steamTempSetpoint", 150)
	if sp, ok := metrics.Get("steamTempSetpoint"); ok {
		setpoint = sp
	}
	maxPressure := settings.Setpoint("maxHeaderPressure", 15)
	pressure, havePressure := metrics.Get("steamPressure")

	overPressure := havePressure && pressure > maxPressure
	if !settings.Enabled || overPressure {
		resetLoop(st, "valve", now)
		out := Result{
			"steamEnable":       Bool(false),
			"steamValve":        Number(0),
			"steamTempSetpoint": Number(setpoint),
		}
		if havePressure {
			out["steamPressure"] = Number(pressure)
		}
		return []Result{out}, nil
	}

	valve, _ := stepLoop(st, "valve", PIDGains{Kp: 8, Ki: 0.04, Kd: 0, Min: 0, Max: 100}, setpoint-controlTemp, now)

	out := Result{
		"steamEnable":       Bool(valve > 0),
		"steamValve":        Number(valve),
		"steamTempSetpoint": Number(setpoint),
	}
	if havePressure {
		out["steamPressure"] = Number(pressure)
	}
	return []Result{out}, nil
}
