package timeseries

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the three store
// interfaces, used by tests and single-process development setups.
type MemoryStore struct {
	mu         sync.Mutex
	metrics    map[string]MetricSnapshot // keyed by equipment id
	uiCommands map[string][]UICommand
	commands   []Command

	// MetricsErr, when set, is returned from RecentMetrics. Lets tests
	// exercise the gate's fail-safe path.
	MetricsErr error
	// WriteErr, when set, is returned from WriteCommands.
	WriteErr error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metrics:    make(map[string]MetricSnapshot),
		uiCommands: make(map[string][]UICommand),
	}
}

// SetMetrics replaces the snapshot served for a unit.
func (s *MemoryStore) SetMetrics(equipmentID string, fields map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]float64, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.metrics[equipmentID] = MetricSnapshot{
		EquipmentID: equipmentID,
		CapturedAt:  time.Now(),
		Fields:      copied,
	}
}

// AddUICommand records a user command for a unit.
func (s *MemoryStore) AddUICommand(c UICommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uiCommands[c.EquipmentID] = append(s.uiCommands[c.EquipmentID], c)
}

// Commands returns a copy of everything written so far.
func (s *MemoryStore) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

func (s *MemoryStore) RecentMetrics(_ context.Context, _ int, equipmentID string) (MetricSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MetricsErr != nil {
		return MetricSnapshot{}, s.MetricsErr
	}
	snap, ok := s.metrics[equipmentID]
	if !ok {
		return MetricSnapshot{EquipmentID: equipmentID, CapturedAt: time.Now(), Fields: map[string]float64{}}, nil
	}
	fields := make(map[string]float64, len(snap.Fields))
	for k, v := range snap.Fields {
		if _, reserved := reservedFields[k]; reserved {
			continue
		}
		fields[k] = v
	}
	return MetricSnapshot{EquipmentID: equipmentID, CapturedAt: time.Now(), Fields: fields}, nil
}

func (s *MemoryStore) RecentUICommands(_ context.Context, equipmentID string, since time.Time, limit int) ([]UICommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = uiCommandLimit
	}
	var out []UICommand
	cmds := s.uiCommands[equipmentID]
	for i := len(cmds) - 1; i >= 0 && len(out) < limit; i-- {
		if cmds[i].Time.After(since) {
			out = append(out, cmds[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) WriteCommands(_ context.Context, cmds []Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.commands = append(s.commands, cmds...)
	return nil
}
