package timeseries

import (
	"context"
	"time"
)

// Reserved field names stripped from flattened metric snapshots. They
// describe the sample, not the equipment.
var reservedFields = map[string]struct{}{
	"equipmentId":   {},
	"locationId":    {},
	"siteId":        {},
	"time":          {},
	"equipmentType": {},
	"system":        {},
	"zone":          {},
}

// MetricSnapshot is the flattened view of a unit's recent samples: for
// each field name, the newest non-null scalar observed in the window.
type MetricSnapshot struct {
	EquipmentID string             `json:"equipment_id"`
	CapturedAt  time.Time          `json:"captured_at"`
	Fields      map[string]float64 `json:"fields"`
}

// Get returns the named field and whether it was present.
func (m MetricSnapshot) Get(name string) (float64, bool) {
	v, ok := m.Fields[name]
	return v, ok
}

// Command is one append-only actuator command record. The value column
// in the store is string-typed; stringification happens at the writer.
type Command struct {
	Time          time.Time `json:"time"`
	SiteID        int       `json:"site_id"`
	EquipmentID   string    `json:"equipment_id"`
	EquipmentType string    `json:"equipment_type"`
	CommandType   string    `json:"command_type"`
	Source        string    `json:"source"`
	Status        string    `json:"status"`
	Value         string    `json:"value"`
}

// UICommand is a user-issued command read from the external UI store.
// The gate only cares whether any exist in the recency window.
type UICommand struct {
	Time        time.Time      `json:"time"`
	EquipmentID string         `json:"equipment_id"`
	IssuedBy    string         `json:"issued_by"`
	Command     map[string]any `json:"command"`
}

// MetricReader reads recent samples for one unit.
type MetricReader interface {
	RecentMetrics(ctx context.Context, siteID int, equipmentID string) (MetricSnapshot, error)
}

// UICommandReader reads recent user commands for one unit.
type UICommandReader interface {
	RecentUICommands(ctx context.Context, equipmentID string, since time.Time, limit int) ([]UICommand, error)
}

// CommandWriter appends command records. A single logic invocation's
// commands arrive as one batch.
type CommandWriter interface {
	WriteCommands(ctx context.Context, cmds []Command) error
}
