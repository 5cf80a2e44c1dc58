// Package stock holds the domain events emitted by the checker and consumed
// by notification, publication and cache layers.
package stock

import (
	"fmt"
	"time"
)

// Kind classifies an Event.
type Kind string

// BecameAvailable fires when a datacenter returns to stock after an
// out-of-stock run at least as long as the notification threshold.
const BecameAvailable Kind = "became_available"

// Event is one stock transition for a (plan, region, datacenter) key.
type Event struct {
	Kind           Kind      `json:"kind"`
	PlanCode       string    `json:"plan_code"`
	Region         string    `json:"region"`
	Datacenter     string    `json:"datacenter"`
	DatacenterCode string    `json:"datacenter_code,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	DwellMinutes   int       `json:"dwell_minutes"`
	At             time.Time `json:"at"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s/%s/%s after %dm", e.Kind, e.Region, e.PlanCode, e.Datacenter, e.DwellMinutes)
}

// Message is the short history line recorded for each delivery.
func (e Event) Message() string {
	return fmt.Sprintf("Back in stock after %d minutes", e.DwellMinutes)
}
