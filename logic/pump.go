package logic

import (
	"fmt"
	"time"

	"github.com/coilworks/bms/registry"
	"github.com/coilworks/bms/state"
	"github.com/coilworks/bms/timeseries"
)

// leadRotationInterval is how long a pump holds the lead role before
// handing it off, balancing runtime across the group.
const leadRotationInterval = 7 * 24 * time.Hour

// Pump runs circulation pumps with lead/lag coordination. Outdoor air
// temperature is the control driver: the group runs while the site
// needs heat circulation.
type Pump struct{}

func (a *Pump) Kind() registry.Kind { return registry.KindPump }

func (a *Pump) Run(metrics timeseries.MetricSnapshot, settings Settings, controlTemp float64, st *state.UnitState) ([]Result, error) {
	now := time.Now()
	enableOAT := settings.Setpoint("enableOutdoorTemp", 70)

	// controlTemp for pumps is OAT by preference list.
	run := settings.Enabled && controlTemp < enableOAT

	// Lead/lag role lives in durable state. First run claims lead;
	// afterwards the role rotates on a fixed interval.
	groupID := fmt.Sprintf("pumps-%d", settings.SiteID)
	ll := st.LeadLag
	if ll.GroupID == "" {
		ll = state.LeadLagState{
			GroupID:         groupID,
			IsLead:          true,
			LeadEquipmentID: settings.EquipmentID,
			Reason:          "initial assignment",
			Since:           now,
		}
	} else if now.Sub(ll.Since) > leadRotationInterval {
		ll.IsLead = !ll.IsLead
		ll.Reason = "runtime rotation"
		ll.Since = now
		if ll.IsLead {
			ll.LeadEquipmentID = settings.EquipmentID
		}
	}

	// The lag pump starts when the lead shows a fault.
	fault := metrics.Fields["fault"] > 0 || metrics.Fields["vfdFault"] > 0
	active := run && (ll.IsLead || fault)

	var speed float64
	if active {
		dpSetpoint := settings.Setpoint("differentialPressureSetpoint", 12)
		dp, haveDP := metrics.Get("differentialPressure")
		minSpeed := settings.Setpoint("minSpeed", 20)
		maxSpeed := settings.Setpoint("maxSpeed", 100)
		if haveDP {
			speed, _ = stepLoop(st, "speed", PIDGains{Kp: 6, Ki: 0.05, Kd: 0, Min: minSpeed, Max: maxSpeed}, dpSetpoint-dp, now)
		} else {
			speed = minSpeed
		}
	} else {
		resetLoop(st, "speed", now)
	}
	st.LeadLag = ll

	status := "lag"
	command := "off"
	if ll.IsLead {
		status = "lead"
	}
	if active {
		command = "run"
	}

	return []Result{{
		"pumpEnable":      Bool(active),
		"pumpSpeed":       Number(speed),
		"pumpCommand":     Text(command),
		"leadLagStatus":   Text(status),
		"isLead":          Bool(ll.IsLead),
		"leadLagGroupId":  Text(ll.GroupID),
		"leadEquipmentId": Text(ll.LeadEquipmentID),
		"leadLagReason":   Text(ll.Reason),
	}}, nil
}
