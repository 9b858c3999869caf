package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coilworks/bms/observability"
)

// Store persists UnitState records as JSON blobs in Redis. Writes for a
// single unit are serialised upstream by the queue's dedup invariant:
// no two workers ever hold the same unit's job at once.
type Store struct {
	client *redis.Client
	siteID int
}

// NewStore creates a state store for one site.
func NewStore(client *redis.Client, siteID int) *Store {
	return &Store{client: client, siteID: siteID}
}

func (s *Store) key(unitID string) string {
	return fmt.Sprintf("bms:%d:unitstate:%s", s.siteID, unitID)
}

// Load returns the unit's durable state, freshly initialised on first
// use.
func (s *Store) Load(ctx context.Context, unitID string) (*UnitState, error) {
	start := time.Now()
	defer func() {
		observability.StoreLatency.WithLabelValues("redis", "state_load").Observe(time.Since(start).Seconds())
	}()

	data, err := s.client.Get(ctx, s.key(unitID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &UnitState{EquipmentID: unitID, SiteID: s.siteID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: loading %s: %w", unitID, err)
	}
	var st UnitState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: unmarshaling %s: %w", unitID, err)
	}
	return &st, nil
}

// Save persists the unit's state. LastInvocation only ever advances: a
// stale write cannot move it backwards.
func (s *Store) Save(ctx context.Context, st *UnitState) error {
	start := time.Now()
	defer func() {
		observability.StoreLatency.WithLabelValues("redis", "state_save").Observe(time.Since(start).Seconds())
	}()

	existing, err := s.Load(ctx, st.EquipmentID)
	if err != nil {
		return err
	}
	if existing.LastInvocation.After(st.LastInvocation) {
		st.LastInvocation = existing.LastInvocation
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("state: marshaling %s: %w", st.EquipmentID, err)
	}
	if err := s.client.Set(ctx, s.key(st.EquipmentID), data, 0).Err(); err != nil {
		return fmt.Errorf("state: saving %s: %w", st.EquipmentID, err)
	}
	return nil
}
