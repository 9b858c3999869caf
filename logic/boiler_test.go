package logic

import (
	"testing"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
)

func boilerSettings() Settings {
	return BuildSettings(12, "riverview", registry.EquipmentUnit{
		ID: "b-1", Kind: registry.KindBoiler, LogicModule: "boiler",
	})
}

func TestBoilerDisabledWhenWarmOutside(t *testing.T) {
	results, err := (&Boiler{}).Run(snap(map[string]float64{
		"outdoorTemp": 70, "supplyTemp": 130,
	}), boilerSettings(), 130, &state.UnitState{})
	if err != nil {
		t.Fatal(err)
	}
	out := results[0]
	if out["boilerEnable"].Bool() {
		t.Fatal("boiler enabled above enable OAT")
	}
	if out["firingRate"].Number() != 0 {
		t.Fatalf("firing rate %v while disabled", out["firingRate"].Number())
	}
}

func TestBoilerOutdoorReset(t *testing.T) {
	st := &state.UnitState{EquipmentID: "b-1"}
	// Cold day: setpoint rides near the top of the band and the cool
	// loop fires hard.
	results, err := (&Boiler{}).Run(snap(map[string]float64{
		"outdoorTemp": 0, "supplyTemp": 120,
	}), boilerSettings(), 120, st)
	if err != nil {
		t.Fatal(err)
	}
	cold := results[0]
	if sp := cold["waterTempSetpoint"].Number(); sp != 180 {
		t.Fatalf("setpoint %v at 0F outdoors, want 180", sp)
	}
	if cold["firingRate"].Number() <= 0 {
		t.Fatal("boiler not firing while below setpoint")
	}

	// Mild day: the reset curve pulls the target down.
	results, err = (&Boiler{}).Run(snap(map[string]float64{
		"outdoorTemp": 60, "supplyTemp": 120,
	}), boilerSettings(), 120, &state.UnitState{})
	if err != nil {
		t.Fatal(err)
	}
	mild := results[0]
	if sp := mild["waterTempSetpoint"].Number(); sp >= 180 || sp < 120 {
		t.Fatalf("setpoint %v at 60F outdoors, want inside band and below design", sp)
	}
}
