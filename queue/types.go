package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/coilworks/bms/registry"
)

var (
	// ErrDuplicate is returned when a job with the same key is already
	// waiting or active. Callers treat it as success-no-op.
	ErrDuplicate = errors.New("queue: job already waiting or active")
	// ErrNoJob is returned by Reserve when nothing became ready before
	// the timeout.
	ErrNoJob = errors.New("queue: no job available")
)

// Job is one unit of work: recompute control outputs for a unit now.
type Job struct {
	ID          string        `json:"id"`
	Key         string        `json:"key"`
	SiteID      int           `json:"site_id"`
	EquipmentID string        `json:"equipment_id"`
	Kind        registry.Kind `json:"kind"`
	Reason      string        `json:"reason"`
	Priority    int           `json:"priority"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`

	// Filled in by the queue.
	Attempt int `json:"attempt"`
	Stalls  int `json:"stalls"`
}

// JobKey builds the deterministic dedup key for a unit.
func JobKey(siteID int, equipmentID string, kind registry.Kind) string {
	return fmt.Sprintf("%d-%s-%s", siteID, equipmentID, kind)
}

// Stats is the queue's public observability surface.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

const (
	completedRetention = 10
	failedRetention    = 25
)
