package monitor

import (
	"fmt"
	"time"
)

// DefaultSLOs returns the four objectives pre-registered at construction.
//
// Latency objectives evaluate the 95th percentile of their sample window.
// Availability inverts the comparison direction: lower values are worse.
// Error rate is the percentage of errors against requests in the window.
func DefaultSLOs() []SLODefinition {
	return []SLODefinition{
		{
			Name:              "response_time",
			Description:       "P95 end-to-end response time",
			Target:            500,
			Unit:              "ms",
			Window:            5 * time.Minute,
			AlertThreshold:    1.2,
			CriticalThreshold: 1.5,
		},
		{
			Name:              "ticket_verification_time",
			Description:       "P95 ticket verification latency",
			Target:            25,
			Unit:              "ms",
			Window:            5 * time.Minute,
			AlertThreshold:    1.2,
			CriticalThreshold: 2.0,
		},
		{
			Name:              "availability",
			Description:       "Share of availability probes reporting healthy",
			Target:            99.9,
			Unit:              "%",
			Window:            time.Hour,
			AlertThreshold:    0.9995,
			CriticalThreshold: 0.999,
			LowerIsWorse:      true,
		},
		{
			Name:              "error_rate",
			Description:       "Errors as a percentage of requests",
			Target:            1,
			Unit:              "%",
			Window:            time.Hour,
			AlertThreshold:    1.5,
			CriticalThreshold: 3.0,
		},
	}
}

// validateSLO rejects definitions that cannot be evaluated.
func validateSLO(def SLODefinition) error {
	if def.Name == "" {
		return fmt.Errorf("slo: name is required")
	}
	if def.Target <= 0 {
		return fmt.Errorf("slo %q: target must be positive, got %v", def.Name, def.Target)
	}
	if def.Window <= 0 {
		return fmt.Errorf("slo %q: window must be positive, got %v", def.Name, def.Window)
	}
	if def.AlertThreshold <= 0 || def.CriticalThreshold <= 0 {
		return fmt.Errorf("slo %q: thresholds must be positive", def.Name)
	}
	return nil
}
