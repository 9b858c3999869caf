package logic

import (
	"github.com/coilworks/bms/registry"
)

// Settings is the bundle handed to every logic run: hard-coded per-kind
// defaults, the site identity, the unit identity and the enable flag.
// Assembled fresh per invocation.
type Settings struct {
	SiteID      int                `json:"site_id"`
	SiteName    string             `json:"site_name"`
	EquipmentID string             `json:"equipment_id"`
	Kind        registry.Kind      `json:"kind"`
	Enabled     bool               `json:"enabled"`
	Setpoints   map[string]float64 `json:"setpoints"`
}

// Setpoint returns a named setpoint, falling back to def when the kind
// defaults do not carry it.
func (s Settings) Setpoint(name string, def float64) float64 {
	if v, ok := s.Setpoints[name]; ok {
		return v
	}
	return def
}

// kindDefaults are the hard-coded per-kind setpoint defaults.
var kindDefaults = map[registry.Kind]map[string]float64{
	registry.KindFanCoil: {
		"temperatureSetpoint": 72,
		"minTemp":             65,
		"maxTemp":             80,
		"deadband":            0.5,
	},
	registry.KindAirHandler: {
		"supplyTempSetpoint":  55,
		"temperatureSetpoint": 72,
		"minSupplyTemp":       52,
		"maxSupplyTemp":       65,
		"minOutdoorDamper":    10,
	},
	registry.KindBoiler: {
		"waterTempSetpoint": 140,
		"minWaterTemp":      120,
		"maxWaterTemp":      180,
		"enableOutdoorTemp": 65,
	},
	registry.KindPump: {
		"differentialPressureSetpoint": 12,
		"minSpeed":                     20,
		"maxSpeed":                     100,
		"enableOutdoorTemp":            70,
	},
	registry.KindChiller: {
		"chilledWaterSetpoint": 44,
		"enableOutdoorTemp":    55,
		"maxStages":            4,
	},
	registry.KindSteamBundle: {
		"steamTempSetpoint": 150,
		"maxHeaderPressure": 15,
	},
}

// BuildSettings assembles the settings bundle for one unit. The enable
// flag defaults to true; sites disable units through configuration, not
// through the logic contract.
func BuildSettings(siteID int, siteName string, unit registry.EquipmentUnit) Settings {
	defaults := kindDefaults[unit.Kind]
	setpoints := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		setpoints[k] = v
	}
	return Settings{
		SiteID:      siteID,
		SiteName:    siteName,
		EquipmentID: unit.ID,
		Kind:        unit.Kind,
		Enabled:     true,
		Setpoints:   setpoints,
	}
}
