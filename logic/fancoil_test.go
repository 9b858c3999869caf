package logic

import (
	"testing"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
)

func fanCoilSettings() Settings {
	return BuildSettings(12, "riverview", registry.EquipmentUnit{
		ID: "fcu-101", Kind: registry.KindFanCoil, LogicModule: "fan-coil",
	})
}

func TestFanCoilCoolsAboveSetpoint(t *testing.T) {
	alg := &FanCoil{}
	st := &state.UnitState{EquipmentID: "fcu-101"}

	results, err := alg.Run(snap(map[string]float64{
		"roomTemp": 74.5, "temperatureSetpoint": 72.0,
	}), fanCoilSettings(), 74.5, st)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	out := results[0]
	if !out["fanEnabled"].Bool() {
		t.Fatal("fan not enabled while cooling")
	}
	if cooling := out["coolingValvePosition"].Number(); cooling <= 0 {
		t.Fatalf("cooling valve %v, want > 0", cooling)
	}
	if heating := out["heatingValvePosition"].Number(); heating != 0 {
		t.Fatalf("heating valve %v while cooling", heating)
	}
	if !out["coolingEnable"].Bool() || out["heatingEnable"].Bool() {
		t.Fatalf("enables wrong: cooling=%v heating=%v", out["coolingEnable"].Bool(), out["heatingEnable"].Bool())
	}
}

func TestFanCoilIdleInsideDeadband(t *testing.T) {
	alg := &FanCoil{}
	st := &state.UnitState{EquipmentID: "fcu-101"}
	results, err := alg.Run(snap(map[string]float64{
		"roomTemp": 72.2, "temperatureSetpoint": 72.0,
	}), fanCoilSettings(), 72.2, st)
	if err != nil {
		t.Fatal(err)
	}
	out := results[0]
	if out["fanEnabled"].Bool() {
		t.Fatal("fan running inside deadband")
	}
	if out["heatingValvePosition"].Number() != 0 || out["coolingValvePosition"].Number() != 0 {
		t.Fatalf("valves open inside deadband: %v / %v",
			out["heatingValvePosition"].Number(), out["coolingValvePosition"].Number())
	}
}

func TestFanCoilSetpointClampedToBand(t *testing.T) {
	alg := &FanCoil{}
	st := &state.UnitState{EquipmentID: "fcu-101"}
	// A nonsense UI setpoint of 50 clamps to minTemp 65, so 70 degrees
	// reads as too warm and cooling engages.
	results, err := alg.Run(snap(map[string]float64{
		"roomTemp": 70, "temperatureSetpoint": 50,
	}), fanCoilSettings(), 70, st)
	if err != nil {
		t.Fatal(err)
	}
	if cooling := results[0]["coolingValvePosition"].Number(); cooling <= 0 {
		t.Fatalf("cooling valve %v, want > 0 against clamped setpoint", cooling)
	}
}

func TestFanCoilDisabledEmitsOff(t *testing.T) {
	alg := &FanCoil{}
	settings := fanCoilSettings()
	settings.Enabled = false
	results, err := alg.Run(snap(map[string]float64{"roomTemp": 80}), settings, 80, &state.UnitState{})
	if err != nil {
		t.Fatal(err)
	}
	out := results[0]
	if out["fanEnabled"].Bool() || out["heatingEnable"].Bool() || out["coolingEnable"].Bool() {
		t.Fatal("disabled unit still commanded on")
	}
}
