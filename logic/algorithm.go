package logic

import (
	"fmt"
	"strconv"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// Value is the tagged union carried by command outputs internally:
// bool, number or string. Stringification to the store's string-typed
// value column happens only at the writer boundary.
type Value struct {
	kind byte // 'b', 'n', 's'
	b    bool
	n    float64
	s    string
}

// Bool wraps a boolean command value.
func Bool(b bool) Value { return Value{kind: 'b', b: b} }

// Number wraps a numeric command value.
func Number(n float64) Value { return Value{kind: 'n', n: n} }

// Text wraps a string command value.
func Text(s string) Value { return Value{kind: 's', s: s} }

// String renders the value the way the command store expects it.
func (v Value) String() string {
	switch v.kind {
	case 'b':
		return strconv.FormatBool(v.b)
	case 'n':
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case 's':
		return v.s
	}
	return ""
}

// Number returns the numeric payload, or 0 for non-numeric values.
func (v Value) Number() float64 {
	if v.kind == 'n' {
		return v.n
	}
	return 0
}

// Bool returns the boolean payload, or false for non-boolean values.
func (v Value) Bool() bool {
	return v.kind == 'b' && v.b
}

// Result is one record emitted by a logic run: output field name to
// value. The writer extracts the actionable subset.
type Result map[string]Value

// ControlAlgorithm is the fixed contract every control algorithm
// satisfies: four inputs, a sequence of result records out. Algorithms
// are registered at build time and resolved by kind tag, never by path.
type ControlAlgorithm interface {
	Kind() registry.Kind
	Run(metrics timeseries.MetricSnapshot, settings Settings, controlTemp float64, st *state.UnitState) ([]Result, error)
}

// Registry resolves control algorithms by kind.
type Registry struct {
	byKind map[registry.Kind]ControlAlgorithm
}

// NewRegistry creates an empty algorithm registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[registry.Kind]ControlAlgorithm)}
}

// Register adds an algorithm; a second registration for the same kind
// is a programming error.
func (r *Registry) Register(a ControlAlgorithm) error {
	k := a.Kind()
	if _, dup := r.byKind[k]; dup {
		return fmt.Errorf("logic: algorithm for %s already registered", k)
	}
	r.byKind[k] = a
	return nil
}

// Resolve returns the algorithm controlling the given kind.
func (r *Registry) Resolve(k registry.Kind) (ControlAlgorithm, bool) {
	a, ok := r.byKind[k]
	return a, ok
}

// DefaultRegistry returns the registry with all built-in algorithms.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []ControlAlgorithm{
		&AirHandler{},
		&FanCoil{},
		&Boiler{},
		&Pump{},
		&Chiller{},
		&SteamBundle{},
	} {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
