package worker

import (
	"context"
	"testing"
	"time"

	"github.com/coilworks/bms/logic"
	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

func fanCoilUnit() registry.EquipmentUnit {
	return registry.EquipmentUnit{ID: "fcu-101", Kind: registry.KindFanCoil, LogicModule: "fan-coil", SiteID: 12}
}

func TestExtractCommandsFiltersToKindVocabulary(t *testing.T) {
	now := time.Now()
	results := []logic.Result{{
		"fanEnabled":           logic.Bool(true),
		"coolingValvePosition": logic.Number(62.5),
		"heatingValvePosition": logic.Number(0),
		"heatingEnable":        logic.Bool(false),
		"coolingEnable":        logic.Bool(true),
		"debugZoneError":       logic.Number(2.5), // diagnostic, not actionable
	}}
	cmds := ExtractCommands(12, fanCoilUnit(), results, now)
	if len(cmds) != 5 {
		t.Fatalf("got %d commands, want 5: %+v", len(cmds), cmds)
	}
	byType := map[string]timeseries.Command{}
	for _, c := range cmds {
		byType[c.CommandType] = c
		if !c.Time.Equal(now) {
			t.Fatalf("command %s has its own timestamp", c.CommandType)
		}
		if c.Source != "worker" || c.Status != "active" {
			t.Fatalf("command tags wrong: %+v", c)
		}
		if c.SiteID != 12 || c.EquipmentID != "fcu-101" || c.EquipmentType != "fan-coil" {
			t.Fatalf("command identity wrong: %+v", c)
		}
	}
	if _, leaked := byType["debugZoneError"]; leaked {
		t.Fatal("diagnostic field written as a command")
	}
	if byType["coolingValvePosition"].Value != "62.5" {
		t.Fatalf("numeric value %q", byType["coolingValvePosition"].Value)
	}
	if byType["fanEnabled"].Value != "true" {
		t.Fatalf("boolean value %q", byType["fanEnabled"].Value)
	}
}

func TestExtractCommandsStringValues(t *testing.T) {
	unit := registry.EquipmentUnit{ID: "p-1", Kind: registry.KindPump, LogicModule: "pumps", SiteID: 12}
	cmds := ExtractCommands(12, unit, []logic.Result{{
		"pumpCommand":   logic.Text("run"),
		"leadLagStatus": logic.Text("lead"),
	}}, time.Now())
	if len(cmds) != 2 {
		t.Fatalf("got %d commands", len(cmds))
	}
	for _, c := range cmds {
		if c.CommandType == "pumpCommand" && c.Value != "run" {
			t.Fatalf("pumpCommand value %q", c.Value)
		}
	}
}

func TestWriteRecordsLastOutputs(t *testing.T) {
	store := timeseries.NewMemoryStore()
	w := NewWriter(store, 12)
	st := &state.UnitState{EquipmentID: "fcu-101", SiteID: 12}

	cmds, err := w.Write(context.Background(), fanCoilUnit(), []logic.Result{{
		"fanEnabled":           logic.Bool(true),
		"coolingValvePosition": logic.Number(45),
	}}, st, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 2 || len(store.Commands()) != 2 {
		t.Fatalf("wrote %d, stored %d", len(cmds), len(store.Commands()))
	}
	if st.LastOutputs["coolingValvePosition"] != "45" {
		t.Fatalf("last outputs %+v", st.LastOutputs)
	}
}

func TestWriteNothingWhenNoActionableOutputs(t *testing.T) {
	store := timeseries.NewMemoryStore()
	w := NewWriter(store, 12)
	st := &state.UnitState{EquipmentID: "fcu-101"}

	cmds, err := w.Write(context.Background(), fanCoilUnit(), []logic.Result{{
		"debugOnly": logic.Number(1),
	}}, st, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if cmds != nil || len(store.Commands()) != 0 {
		t.Fatal("wrote commands for a diagnostic-only result")
	}
}

func TestWritePropagatesStoreError(t *testing.T) {
	store := timeseries.NewMemoryStore()
	store.WriteErr = context.DeadlineExceeded
	w := NewWriter(store, 12)
	st := &state.UnitState{EquipmentID: "fcu-101"}

	_, err := w.Write(context.Background(), fanCoilUnit(), []logic.Result{{
		"fanEnabled": logic.Bool(true),
	}}, st, time.Now())
	if err == nil {
		t.Fatal("store error swallowed")
	}
	if len(st.LastOutputs) != 0 {
		t.Fatal("last outputs updated despite failed write")
	}
}
