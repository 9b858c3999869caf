package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coilworks/bms/observability"
)

const (
	metricsWindow  = 15 * time.Minute
	metricsRowCap  = 100
	uiCommandLimit = 5
)

// PostgresStore backs the metric, UI-command and command stores with a
// single PostgreSQL pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes the store and verifies connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// RecentMetrics returns the flattened newest-first sample-set for one
// unit: last 15 minutes, capped at 100 rows, newest non-null value per
// field, reserved field names stripped.
func (s *PostgresStore) RecentMetrics(ctx context.Context, siteID int, equipmentID string) (MetricSnapshot, error) {
	start := time.Now()
	defer func() {
		observability.StoreLatency.WithLabelValues("postgres", "recent_metrics").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT time, fields
		FROM metric_samples
		WHERE site_id = $1 AND equipment_id = $2 AND time > now() - $3::interval
		ORDER BY time DESC
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, query, siteID, equipmentID, metricsWindow.String(), metricsRowCap)
	if err != nil {
		return MetricSnapshot{}, fmt.Errorf("querying metrics for %s: %w", equipmentID, err)
	}
	defer rows.Close()

	snap := MetricSnapshot{
		EquipmentID: equipmentID,
		CapturedAt:  time.Now(),
		Fields:      make(map[string]float64),
	}
	for rows.Next() {
		var ts time.Time
		var raw []byte
		if err := rows.Scan(&ts, &raw); err != nil {
			return MetricSnapshot{}, err
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		mergeSample(snap.Fields, fields)
	}
	return snap, rows.Err()
}

// mergeSample folds one sample row into the flattened mapping. Rows
// arrive newest first, so a field already present wins.
func mergeSample(dst map[string]float64, fields map[string]any) {
	for name, v := range fields {
		if _, reserved := reservedFields[name]; reserved {
			continue
		}
		if _, seen := dst[name]; seen {
			continue
		}
		switch val := v.(type) {
		case float64:
			dst[name] = val
		case bool:
			if val {
				dst[name] = 1
			} else {
				dst[name] = 0
			}
		}
	}
}

// RecentUICommands returns user commands for a unit newer than since,
// newest first, capped at limit (5 if limit <= 0).
func (s *PostgresStore) RecentUICommands(ctx context.Context, equipmentID string, since time.Time, limit int) ([]UICommand, error) {
	start := time.Now()
	defer func() {
		observability.StoreLatency.WithLabelValues("postgres", "recent_ui_commands").Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 {
		limit = uiCommandLimit
	}
	query := `
		SELECT time, equipment_id, issued_by, command
		FROM ui_commands
		WHERE equipment_id = $1 AND time > $2
		ORDER BY time DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, equipmentID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ui commands for %s: %w", equipmentID, err)
	}
	defer rows.Close()

	var out []UICommand
	for rows.Next() {
		var c UICommand
		var raw []byte
		if err := rows.Scan(&c.Time, &c.EquipmentID, &c.IssuedBy, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &c.Command)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// WriteCommands appends command records in one round-trip.
func (s *PostgresStore) WriteCommands(ctx context.Context, cmds []Command) error {
	if len(cmds) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		observability.StoreLatency.WithLabelValues("postgres", "write_commands").Observe(time.Since(start).Seconds())
	}()

	batch := &pgx.Batch{}
	query := `
		INSERT INTO commands (time, site_id, equipment_id, equipment_type, command_type, source, status, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, c := range cmds {
		batch.Queue(query, c.Time, c.SiteID, c.EquipmentID, c.EquipmentType, c.CommandType, c.Source, c.Status, c.Value)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range cmds {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("writing command batch: %w", err)
		}
	}
	return nil
}
