package registry

import (
	"fmt"
	"time"
)

// EquipmentUnit is the static description of one managed unit. Units are
// registered at startup from site configuration and never mutated.
type EquipmentUnit struct {
	ID             string        `json:"id"`
	Kind           Kind          `json:"kind"`
	LogicModule    string        `json:"logic_module"`
	TickPeriod     time.Duration `json:"tick_period"`
	CleanupTimeout time.Duration `json:"cleanup_timeout"`
	BasePriority   int           `json:"base_priority"`
	SiteID         int           `json:"site_id"`
}

// Policy returns the effective per-kind policy with the unit's own
// overrides (tick period, cleanup timeout) applied.
func (u EquipmentUnit) Policy() Policy {
	p := PolicyFor(u.Kind)
	if u.TickPeriod > 0 {
		p.TickPeriod = u.TickPeriod
	}
	if u.CleanupTimeout > 0 {
		p.CleanupTimeout = u.CleanupTimeout
	}
	if u.BasePriority != 0 {
		p.BasePriority = u.BasePriority
	}
	return p
}

// Registry exposes the static equipment table for one site.
type Registry struct {
	siteID int
	units  map[string]EquipmentUnit
	order  []string
}

// New validates the unit table and builds the registry. Validation
// failures are fatal to the process: a site must not start with a unit
// it cannot schedule or execute.
func New(siteID int, units []EquipmentUnit) (*Registry, error) {
	r := &Registry{
		siteID: siteID,
		units:  make(map[string]EquipmentUnit, len(units)),
	}
	for _, u := range units {
		if u.ID == "" {
			return nil, fmt.Errorf("registry: unit with empty id")
		}
		if _, dup := r.units[u.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate unit id %q", u.ID)
		}
		if !u.Kind.Valid() {
			return nil, fmt.Errorf("registry: unit %q has unknown kind %q", u.ID, u.Kind)
		}
		mk, ok := ResolveLogicModule(u.LogicModule)
		if !ok {
			return nil, fmt.Errorf("registry: unit %q references unknown logic module %q", u.ID, u.LogicModule)
		}
		if mk != u.Kind {
			return nil, fmt.Errorf("registry: unit %q logic module %q controls %s, not %s", u.ID, u.LogicModule, mk, u.Kind)
		}
		p := u.Policy()
		if p.TickPeriod <= 0 {
			return nil, fmt.Errorf("registry: unit %q has non-positive tick period", u.ID)
		}
		if p.TickPeriod > p.MaxStaleness {
			return nil, fmt.Errorf("registry: unit %q tick period %v exceeds max staleness %v", u.ID, p.TickPeriod, p.MaxStaleness)
		}
		u.SiteID = siteID
		r.units[u.ID] = u
		r.order = append(r.order, u.ID)
	}
	return r, nil
}

// SiteID returns the site this registry belongs to.
func (r *Registry) SiteID() int { return r.siteID }

// Lookup returns the unit with the given id.
func (r *Registry) Lookup(unitID string) (EquipmentUnit, bool) {
	u, ok := r.units[unitID]
	return u, ok
}

// Enumerate returns all units in registration order.
func (r *Registry) Enumerate() []EquipmentUnit {
	out := make([]EquipmentUnit, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.units[id])
	}
	return out
}

// Len returns the number of registered units.
func (r *Registry) Len() int { return len(r.units) }
