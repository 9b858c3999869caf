package logic

import (
	"time"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// Boiler runs an outdoor-reset hot water loop: the water setpoint
// slides between the configured band as outdoor air falls, and the
// firing rate chases it.
type Boiler struct{}

func (a *Boiler) Kind() registry.Kind { return registry.KindBoiler }

func (a *Boiler) Run(metrics timeseries.MetricSnapshot, settings Settings, controlTemp float64, st *state.UnitState) ([]Result, error) {
	now := time.Now()
	enableOAT := settings.Setpoint("enableOutdoorTemp", 65)
	minWater := settings.Setpoint("minWaterTemp", 120)
	maxWater := settings.Setpoint("maxWaterTemp", 180)

	outdoor, haveOutdoor := metrics.Get("outdoorTemp")
	enabled := settings.Enabled
	if haveOutdoor && outdoor >= enableOAT {
		enabled = false
	}
	if !enabled {
		resetLoop(st, "firing", now)
		return []Result{{
			"boilerEnable":      Bool(false),
			"firingRate":        Number(0),
			"waterTempSetpoint": Number(minWater),
		}}, nil
	}

	// Reset curve: design water temp at 0 F outdoors, minimum at the
	// enable threshold.
	target := maxWater
	if haveOutdoor {
		frac := clamp(outdoor/enableOAT, 0, 1)
		target = maxWater - frac*(maxWater-minWater)
	}
	if sp, ok := metrics.Get("waterTempSetpoint"); ok {
		target = clamp(sp, minWater, maxWater)
	}

	firing, _ := stepLoop(st, "firing", PIDGains{Kp: 4, Ki: 0.02, Kd: 0, Min: 0, Max: 100}, target-controlTemp, now)

	return []Result{{
		"boilerEnable":      Bool(true),
		"firingRate":        Number(firing),
		"waterTempSetpoint": Number(target),
	}}, nil
}
