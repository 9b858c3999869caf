package registry

import (
	"time"
)

// Kind identifies the class of a controllable unit. It selects the
// control algorithm, the scheduling policy and the gate thresholds.
type Kind string

const (
	KindAirHandler  Kind = "air-handler"
	KindFanCoil     Kind = "fan-coil"
	KindBoiler      Kind = "boiler"
	KindPump        Kind = "pump"
	KindChiller     Kind = "chiller"
	KindSteamBundle Kind = "steam-bundle"
)

// Kinds returns all known kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindAirHandler, KindFanCoil, KindBoiler, KindPump, KindChiller, KindSteamBundle}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAirHandler, KindFanCoil, KindBoiler, KindPump, KindChiller, KindSteamBundle:
		return true
	}
	return false
}

// Policy is the complete per-kind scheduling and control policy.
// Retry count, backoff base and stall limits live here rather than as
// literals spread across call sites.
type Policy struct {
	TickPeriod     time.Duration
	MaxStaleness   time.Duration
	CleanupTimeout time.Duration // tracker self-heal + logic run timeout
	BasePriority   int

	// Rule 4: |measured - setpoint| at or above this triggers processing.
	TempDeviation float64
	// Metric used for rule 4, with the setpoint it is compared against.
	DefiningTempMetric string
	SetpointMetric     string

	// Rule 5: per-field change tolerances vs the previous gate snapshot.
	// Exact metric names only; substring heuristics are a migration hazard.
	Tolerances map[string]float64

	// Control temperature selection, walked in order; first present
	// numeric metric wins, otherwise the fallback.
	ControlTempPrefs    []string
	ControlTempFallback float64

	// Queue retry policy.
	MaxRetries   int
	RetryBackoff time.Duration
	StallLimit   int
}

// LogicTimeout is the hard deadline for a single logic invocation.
func (p Policy) LogicTimeout() time.Duration { return p.CleanupTimeout }

var policies = map[Kind]Policy{
	KindFanCoil: {
		TickPeriod:         30 * time.Second,
		MaxStaleness:       45 * time.Second,
		CleanupTimeout:     45 * time.Second,
		TempDeviation:      2.0,
		DefiningTempMetric: "roomTemp",
		SetpointMetric:     "temperatureSetpoint",
		Tolerances: map[string]float64{
			"roomTemp":             1.5,
			"zoneTemp":             1.5,
			"heatingValvePosition": 20,
			"coolingValvePosition": 20,
		},
		ControlTempPrefs:    []string{"zoneTemp", "roomTemp", "spaceTemp"},
		ControlTempFallback: 72,
		MaxRetries:          3,
		RetryBackoff:        2 * time.Second,
		StallLimit:          3,
	},
	KindAirHandler: {
		TickPeriod:         30 * time.Second,
		MaxStaleness:       45 * time.Second,
		CleanupTimeout:     90 * time.Second,
		TempDeviation:      2.0,
		DefiningTempMetric: "supplyTemp",
		SetpointMetric:     "supplyTempSetpoint",
		Tolerances: map[string]float64{
			"supplyTemp":    2.0,
			"returnTemp":    2.0,
			"mixedAirTemp":  2.0,
			"spaceTemp":     2.0,
			"outdoorDamper": 20,
			"heatingValve":  20,
			"coolingValve":  20,
		},
		ControlTempPrefs:    []string{"spaceTemp", "zoneTemp", "returnTemp", "outdoorTemp"},
		ControlTempFallback: 72,
		MaxRetries:          3,
		RetryBackoff:        2 * time.Second,
		StallLimit:          3,
	},
	KindBoiler: {
		TickPeriod:         60 * time.Second,
		MaxStaleness:       180 * time.Second,
		CleanupTimeout:     90 * time.Second,
		TempDeviation:      4.0,
		DefiningTempMetric: "supplyTemp",
		SetpointMetric:     "waterTempSetpoint",
		Tolerances: map[string]float64{
			"supplyTemp":    4.0,
			"returnTemp":    4.0,
			"steamPressure": 8,
		},
		ControlTempPrefs:    []string{"supplyTemp", "heatingWaterTemp", "waterTemp"},
		ControlTempFallback: 140,
		MaxRetries:          3,
		RetryBackoff:        2 * time.Second,
		StallLimit:          3,
	},
	KindPump: {
		TickPeriod:     30 * time.Second,
		MaxStaleness:   120 * time.Second,
		CleanupTimeout: 60 * time.Second,
		// Pumps have no controlled temperature; rule 4 never fires.
		Tolerances: map[string]float64{
			"pumpSpeed":            15,
			"differentialPressure": 5,
			"amps":                 3,
		},
		// OAT drives pump lead/lag decisions.
		ControlTempPrefs:    []string{"outdoorTemp", "oat"},
		ControlTempFallback: 65,
		MaxRetries:          3,
		RetryBackoff:        2 * time.Second,
		StallLimit:          3,
	},
	KindChiller: {
		TickPeriod:         300 * time.Second,
		MaxStaleness:       480 * time.Second,
		CleanupTimeout:     180 * time.Second,
		TempDeviation:      2.0,
		DefiningTempMetric: "chilledWaterSupplyTemp",
		SetpointMetric:     "chilledWaterSetpoint",
		Tolerances: map[string]float64{
			"chilledWaterSupplyTemp": 2.0,
			"chilledWaterReturnTemp": 2.0,
			"dischargePressure":      8,
		},
		ControlTempPrefs:    []string{"chilledWaterSupplyTemp", "chilledWaterReturnTemp"},
		ControlTempFallback: 45,
		MaxRetries:          3,
		RetryBackoff:        2 * time.Second,
		StallLimit:          3,
	},
	KindSteamBundle: {
		TickPeriod:         20 * time.Second,
		MaxStaleness:       30 * time.Second,
		CleanupTimeout:     45 * time.Second,
		TempDeviation:      5.0,
		DefiningTempMetric: "steamTemp",
		SetpointMetric:     "steamTempSetpoint",
		Tolerances: map[string]float64{
			"steamTemp":  5.0,
			"supplyTemp": 5.0,
			"steamValve": 25,
		},
		ControlTempPrefs:    []string{"steamTemp", "supplyTemp", "heatingWaterTemp"},
		ControlTempFallback: 150,
		MaxRetries:          3,
		RetryBackoff:        2 * time.Second,
		StallLimit:          3,
	},
}

// PolicyFor returns the scheduling policy for a kind. Unknown kinds get
// the fan-coil policy, the most conservative cadence in the table.
func PolicyFor(k Kind) Policy {
	if p, ok := policies[k]; ok {
		return p
	}
	return policies[KindFanCoil]
}

// MaxStaleness returns the staleness ceiling for a kind.
func MaxStaleness(k Kind) time.Duration { return PolicyFor(k).MaxStaleness }

// logicModules maps the on-disk logic module names to their kind.
// Resolution happens through the build-time algorithm registry; a name
// outside this table is rejected at startup.
var logicModules = map[string]Kind{
	"air-handler":  KindAirHandler,
	"fan-coil":     KindFanCoil,
	"pumps":        KindPump,
	"boiler":       KindBoiler,
	"steam-bundle": KindSteamBundle,
	"chiller":      KindChiller,
}

// ResolveLogicModule maps a logic module name to the kind it controls.
func ResolveLogicModule(name string) (Kind, bool) {
	k, ok := logicModules[name]
	return k, ok
}

// DefaultLogicModule returns the canonical module name for a kind. The
// pump module name is plural for historical reasons.
func DefaultLogicModule(k Kind) string {
	if k == KindPump {
		return "pumps"
	}
	return string(k)
}
