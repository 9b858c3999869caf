package state

import (
	"time"
)

// PIDState carries the accumulators for one control loop between
// invocations.
type PIDState struct {
	Integral   float64   `json:"integral"`
	LastError  float64   `json:"last_error"`
	Derivative float64   `json:"derivative"`
	LastUpdate time.Time `json:"last_update"`
}

// LeadLagState records a pump's role within its lead/lag group.
type LeadLagState struct {
	GroupID         string    `json:"group_id"`
	IsLead          bool      `json:"is_lead"`
	LeadEquipmentID string    `json:"lead_equipment_id"`
	Reason          string    `json:"reason"`
	Since           time.Time `json:"since"`
}

// UnitState is the durable per-unit state. Created lazily on first use,
// updated on each successful invocation, survives restarts.
type UnitState struct {
	EquipmentID    string              `json:"equipment_id"`
	SiteID         int                 `json:"site_id"`
	LastInvocation time.Time           `json:"last_invocation"`
	PIDLoops       map[string]PIDState `json:"pid_loops,omitempty"`
	LeadLag        LeadLagState        `json:"lead_lag,omitempty"`
	LastOutputs    map[string]string   `json:"last_outputs,omitempty"`
}

// Loop returns the named PID loop, zero-valued if it has not run yet.
func (s *UnitState) Loop(name string) PIDState {
	return s.PIDLoops[name]
}

// SetLoop stores the named PID loop state.
func (s *UnitState) SetLoop(name string, p PIDState) {
	if s.PIDLoops == nil {
		s.PIDLoops = make(map[string]PIDState)
	}
	s.PIDLoops[name] = p
}
