package logic

import (
	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/timeseries"
)

// ControlTemperature selects the single scalar the algorithm treats as
// its primary controlled variable. The per-kind preference list is
// walked in order and the first present metric wins; the choice is
// deterministic for a given (kind, metrics) pair.
func ControlTemperature(kind registry.Kind, metrics timeseries.MetricSnapshot) float64 {
	p := registry.PolicyFor(kind)
	for _, name := range p.ControlTempPrefs {
		if v, ok := metrics.Get(name); ok {
			return v
		}
	}
	return p.ControlTempFallback
}
