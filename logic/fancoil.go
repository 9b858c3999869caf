package logic

import (
	"time"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// FanCoil drives a two-pipe or four-pipe fan coil: one heating and one
// cooling valve loop around the zone temperature.
type FanCoil struct{}

func (a *FanCoil) Kind() registry.Kind { return registry.KindFanCoil }

func (a *FanCoil) Run(metrics timeseries.MetricSnapshot, settings Settings, controlTemp float64, st *state.UnitState) ([]Result, error) {
	now := time.Now()
	setpoint := settings.Setpoint("temperatureSetpoint", 72)
	if sp, ok := metrics.Get("temperatureSetpoint"); ok {
		setpoint = sp
	}
	setpoint = clamp(setpoint, settings.Setpoint("minTemp", 65), settings.Setpoint("maxTemp", 80))
	deadband := settings.Setpoint("deadband", 0.5)

	if !settings.Enabled {
		return []Result{{
			"fanEnabled":           Bool(false),
			"heatingValvePosition": Number(0),
			"coolingValvePosition": Number(0),
			"heatingEnable":        Bool(false),
			"coolingEnable":        Bool(false),
		}}, nil
	}

	err := controlTemp - setpoint
	valveGains := PIDGains{Kp: 25, Ki: 0.05, Kd: 0, Min: 0, Max: 100}

	var heating, cooling float64
	if err > deadband {
		cooling, _ = stepLoop(st, "cooling", valveGains, err, now)
		resetLoop(st, "heating", now)
	} else if err < -deadband {
		heating, _ = stepLoop(st, "heating", valveGains, -err, now)
		resetLoop(st, "cooling", now)
	} else {
		resetLoop(st, "heating", now)
		resetLoop(st, "cooling", now)
	}

	return []Result{{
		"fanEnabled":           Bool(heating > 0 || cooling > 0),
		"heatingValvePosition": Number(heating),
		"coolingValvePosition": Number(cooling),
		"heatingEnable":        Bool(heating > 0),
		"coolingEnable":        Bool(cooling > 0),
	}}, nil
}

// stepLoop advances a named PID loop stored in durable unit state.
func stepLoop(st *state.UnitState, name string, g PIDGains, err float64, now time.Time) (float64, state.PIDState) {
	out, next := StepPID(st.Loop(name), g, err, now)
	st.SetLoop(name, next)
	return out, next
}

// resetLoop clears a loop's accumulators while it is inactive.
func resetLoop(st *state.UnitState, name string, now time.Time) {
	st.SetLoop(name, state.PIDState{LastUpdate: now})
}
