package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/coilworks/bms/registry"
)

// unitSpec is the on-disk shape of one equipment unit. Durations are
// whole seconds; zero means the kind's policy default.
type unitSpec struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	LogicModule    string `json:"logicModule"`
	TickSeconds    int    `json:"tickSeconds"`
	CleanupSeconds int    `json:"cleanupSeconds"`
	BasePriority   int    `json:"basePriority"`
}

// loadUnits reads the site's unit table. Validation beyond file shape
// happens in the registry.
func loadUnits(path string) ([]registry.EquipmentUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading units file: %w", err)
	}
	var specs []unitSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing units file %s: %w", path, err)
	}
	units := make([]registry.EquipmentUnit, 0, len(specs))
	for _, s := range specs {
		module := s.LogicModule
		if module == "" {
			module = registry.DefaultLogicModule(registry.Kind(s.Kind))
		}
		units = append(units, registry.EquipmentUnit{
			ID:             s.ID,
			Kind:           registry.Kind(s.Kind),
			LogicModule:    module,
			TickPeriod:     time.Duration(s.TickSeconds) * time.Second,
			CleanupTimeout: time.Duration(s.CleanupSeconds) * time.Second,
			BasePriority:   s.BasePriority,
		})
	}
	return units, nil
}
