package gate

import (
	"fmt"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/timeseries"
)

// Fixed safety bounds. Each predicate is a simple bound check against
// the fresh snapshot; any firing forces processing at the safety
// priority.
const (
	boilerSupplyLimit     = 170 // F
	fanCoilRoomLow        = 60
	fanCoilRoomHigh       = 85
	ahuSupplyHigh         = 85
	ahuMixedAirLow        = 35
	ahuDamperOpenLimit    = 95 // percent
	ahuColdOutdoor        = 32
	pumpOverloadDefault   = 15  // amps
	pumpVibrationLimit    = 0.5 // in/s
	steamHeaderLimit      = 15  // psi
	chillerDischargeLimit = 200 // psi
)

// safetyViolation applies the kind's safety predicates in a fixed
// order and returns the first violation.
func safetyViolation(kind registry.Kind, snap timeseries.MetricSnapshot) (string, bool) {
	get := snap.Get
	asserted := func(name string) bool {
		v, ok := get(name)
		return ok && v > 0
	}

	switch kind {
	case registry.KindBoiler:
		if v, ok := get("supplyTemp"); ok && v > boilerSupplyLimit {
			return fmt.Sprintf("safety: supply water %.1f°F above %d°F limit", v, boilerSupplyLimit), true
		}
		if asserted("freezestat") {
			return "safety: freezestat asserted", true
		}
	case registry.KindFanCoil:
		if v, ok := get("roomTemp"); ok && (v < fanCoilRoomLow || v > fanCoilRoomHigh) {
			return fmt.Sprintf("safety: room temp %.1f°F outside %d-%d°F", v, fanCoilRoomLow, fanCoilRoomHigh), true
		}
	case registry.KindAirHandler:
		if v, ok := get("supplyTemp"); ok && v > ahuSupplyHigh {
			return fmt.Sprintf("safety: supply air %.1f°F above %d°F limit", v, ahuSupplyHigh), true
		}
		if v, ok := get("mixedAirTemp"); ok && v < ahuMixedAirLow {
			return fmt.Sprintf("safety: mixed air %.1f°F below %d°F limit", v, ahuMixedAirLow), true
		}
		damper, haveDamper := get("outdoorDamper")
		outdoor, haveOutdoor := get("outdoorTemp")
		if haveDamper && haveOutdoor && damper > ahuDamperOpenLimit && outdoor < ahuColdOutdoor {
			return "safety: outdoor damper open in cold", true
		}
		if asserted("freezestat") {
			return "safety: freezestat asserted", true
		}
	case registry.KindPump:
		limit := pumpOverloadDefault
		if v, ok := get("overloadLimit"); ok {
			limit = int(v)
		}
		if v, ok := get("amps"); ok && v > float64(limit) {
			return fmt.Sprintf("safety: motor current %.1fA above %dA overload limit", v, limit), true
		}
		if v, ok := get("vibration"); ok && v > pumpVibrationLimit {
			return fmt.Sprintf("safety: vibration %.2f above %.2f limit", v, pumpVibrationLimit), true
		}
	case registry.KindSteamBundle:
		if v, ok := get("steamPressure"); ok && v > steamHeaderLimit {
			return fmt.Sprintf("safety: header pressure %.1fpsi above %dpsi limit", v, steamHeaderLimit), true
		}
	case registry.KindChiller:
		if v, ok := get("dischargePressure"); ok && v > chillerDischargeLimit {
			return fmt.Sprintf("safety: discharge pressure %.1fpsi above %dpsi limit", v, chillerDischargeLimit), true
		}
	}
	return "", false
}
