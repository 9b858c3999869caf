package logic

import (
	"time"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// AirHandler drives an AHU: supply temperature reset, heating/cooling
// valve loops, economizer and damper coordination, freeze protection.
type AirHandler struct{}

func (a *AirHandler) Kind() registry.Kind { return registry.KindAirHandler }

func (a *AirHandler) Run(metrics timeseries.MetricSnapshot, settings Settings, controlTemp float64, st *state.UnitState) ([]Result, error) {
	now := time.Now()
	if !settings.Enabled {
		return []Result{{
			"unitEnable":   Bool(false),
			"fanEnable":    Bool(false),
			"fanSpeed":     Number(0),
			"heatingValve": Number(0),
			"coolingValve": Number(0),
		}}, nil
	}

	zoneSetpoint := settings.Setpoint("temperatureSetpoint", 72)
	if sp, ok := metrics.Get("temperatureSetpoint"); ok {
		zoneSetpoint = sp
	}

	// Supply reset: zone error shifts the supply setpoint inside the
	// configured band.
	minSupply := settings.Setpoint("minSupplyTemp", 52)
	maxSupply := settings.Setpoint("maxSupplyTemp", 65)
	zoneErr := controlTemp - zoneSetpoint
	supplySetpoint := clamp(settings.Setpoint("supplyTempSetpoint", 55)-zoneErr*2, minSupply, maxSupply)

	supplyTemp, haveSupply := metrics.Get("supplyTemp")
	var heating, cooling float64
	if haveSupply {
		supplyErr := supplyTemp - supplySetpoint
		valveGains := PIDGains{Kp: 15, Ki: 0.03, Kd: 0, Min: 0, Max: 100}
		if supplyErr > 0.5 {
			cooling, _ = stepLoop(st, "cooling", valveGains, supplyErr, now)
			resetLoop(st, "heating", now)
		} else if supplyErr < -0.5 {
			heating, _ = stepLoop(st, "heating", valveGains, -supplyErr, now)
			resetLoop(st, "cooling", now)
		}
	}

	// Economizer: free cooling when outdoor air is useful and safe.
	outdoor, haveOutdoor := metrics.Get("outdoorTemp")
	returnTemp, haveReturn := metrics.Get("returnTemp")
	minDamper := settings.Setpoint("minOutdoorDamper", 10)
	outdoorDamper := minDamper
	economizer := false
	if haveOutdoor && haveReturn && outdoor > 40 && outdoor < returnTemp-2 && cooling > 0 {
		economizer = true
		outdoorDamper = clamp(minDamper+cooling*0.8, minDamper, 100)
	}

	// Freeze protection overrides the dampers and forces heat.
	mixed, haveMixed := metrics.Get("mixedAirTemp")
	freezestat := metrics.Fields["freezestat"] > 0
	if freezestat || (haveMixed && mixed < 38) {
		economizer = false
		outdoorDamper = 0
		heating = 100
		cooling = 0
	}

	fanSpeed := clamp(40+absFloat(zoneErr)*10, 40, 100)

	return []Result{{
		"unitEnable":          Bool(true),
		"fanEnable":           Bool(true),
		"fanSpeed":            Number(fanSpeed),
		"heatingValve":        Number(heating),
		"coolingValve":        Number(cooling),
		"outdoorDamper":       Number(outdoorDamper),
		"returnDamper":        Number(100 - outdoorDamper),
		"mixedAirDamper":      Number(outdoorDamper),
		"economizer":          Bool(economizer),
		"supplyTempSetpoint":  Number(supplySetpoint),
		"temperatureSetpoint": Number(zoneSetpoint),
	}}, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
