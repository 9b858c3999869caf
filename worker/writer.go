package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/coilworks/bms/logic"
	"github.com/coilworks/bms/observability"
	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// commandFields is the actionable output vocabulary per kind. Logic
// results may carry diagnostic fields; only the names listed here
// become command records. Order here is the write order.
var commandFields = map[registry.Kind][]string{
	registry.KindFanCoil: {
		"fanEnabled", "heatingValvePosition", "coolingValvePosition",
		"heatingEnable", "coolingEnable",
	},
	registry.KindAirHandler: {
		"unitEnable", "fanEnable", "fanSpeed", "heatingValve",
		"coolingValve", "outdoorDamper", "returnDamper", "mixedAirDamper",
		"economizer", "supplyTempSetpoint", "temperatureSetpoint",
	},
	registry.KindBoiler: {
		"boilerEnable", "firingRate", "waterTempSetpoint",
	},
	registry.KindPump: {
		"pumpEnable", "pumpSpeed", "pumpCommand", "leadLagStatus",
		"isLead", "leadLagGroupId", "leadEquipmentId", "leadLagReason",
	},
	registry.KindChiller: {
		"chillerEnable", "chilledWaterSetpoint", "compressorStage",
	},
	registry.KindSteamBundle: {
		"steamEnable", "steamValve", "steamTempSetpoint", "steamPressure",
	},
}

// Writer turns logic results into append-only command records and
// mirrors the written values into the unit's last-output snapshot.
type Writer struct {
	store  timeseries.CommandWriter
	siteID int
}

// NewWriter creates a writer for one site.
func NewWriter(store timeseries.CommandWriter, siteID int) *Writer {
	return &Writer{store: store, siteID: siteID}
}

// ExtractCommands filters the results down to the kind's actionable
// fields. All records from one invocation share a timestamp so the
// batch reads as a single control action downstream.
func ExtractCommands(siteID int, unit registry.EquipmentUnit, results []logic.Result, now time.Time) []timeseries.Command {
	fields := commandFields[unit.Kind]
	var cmds []timeseries.Command
	for _, res := range results {
		for _, name := range fields {
			v, ok := res[name]
			if !ok {
				continue
			}
			cmds = append(cmds, timeseries.Command{
				Time:          now,
				SiteID:        siteID,
				EquipmentID:   unit.ID,
				EquipmentType: string(unit.Kind),
				CommandType:   name,
				Source:        "worker",
				Status:        "active",
				Value:         v.String(),
			})
		}
	}
	return cmds
}

// Write appends the invocation's commands and records them in the
// unit's durable last-output snapshot. A run with no actionable
// outputs writes nothing.
func (w *Writer) Write(ctx context.Context, unit registry.EquipmentUnit, results []logic.Result, st *state.UnitState, now time.Time) ([]timeseries.Command, error) {
	cmds := ExtractCommands(w.siteID, unit, results, now)
	if len(cmds) == 0 {
		return nil, nil
	}
	if err := w.store.WriteCommands(ctx, cmds); err != nil {
		return nil, fmt.Errorf("worker: writing %d command(s) for %s: %w", len(cmds), unit.ID, err)
	}
	if st.LastOutputs == nil {
		st.LastOutputs = make(map[string]string, len(cmds))
	}
	for _, c := range cmds {
		st.LastOutputs[c.CommandType] = c.Value
		observability.CommandsWritten.WithLabelValues(string(unit.Kind), c.CommandType).Inc()
	}
	return cmds, nil
}
