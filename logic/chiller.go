package logic

import (
	"strconv"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// Chiller stages compressors against the chilled water supply
// temperature. Stage count persists in the last-output snapshot so
// staging moves one step per invocation.
type Chiller struct{}

func (a *Chiller) Kind() registry.Kind { return registry.KindChiller }

func (a *Chiller) Run(metrics timeseries.MetricSnapshot, settings Settings, controlTemp float64, st *state.UnitState) ([]Result, error) {
	enableOAT := settings.Setpoint("enableOutdoorTemp", 55)
	setpoint := settings.Setpoint("chilledWaterSetpoint", 44)
	if sp, ok := metrics.Get("chilledWaterSetpoint"); ok {
		setpoint = sp
	}
	maxStages := int(settings.Setpoint("maxStages", 4))

	outdoor, haveOutdoor := metrics.Get("outdoorTemp")
	enabled := settings.Enabled
	if haveOutdoor && outdoor <= enableOAT {
		enabled = false
	}

	stage := lastStage(st)
	if !enabled {
		stage = 0
	} else {
		// controlTemp is the chilled water supply by preference list.
		err := controlTemp - setpoint
		switch {
		case err > 1.5 && stage < maxStages:
			stage++
		case err < -1.0 && stage > 1:
			stage--
		case stage == 0:
			stage = 1
		}
	}

	return []Result{{
		"chillerEnable":        Bool(enabled && stage > 0),
		"chilledWaterSetpoint": Number(setpoint),
		"compressorStage":      Number(float64(stage)),
	}}, nil
}

// lastStage recovers the previous stage from the durable last-output
// snapshot; absent or unparsable means off.
func lastStage(st *state.UnitState) int {
	raw, ok := st.LastOutputs["compressorStage"]
	if !ok {
		return 0
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int(n)
}
