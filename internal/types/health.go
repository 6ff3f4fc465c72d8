package types

import (
	"time"
)

// HealthState is the liveness classification of a provider
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// ProviderHealth is the result of the most recent completed probe
type ProviderHealth struct {
	Provider     ProviderID    `json:"provider"`
	Status       HealthState   `json:"status"`
	LastChecked  time.Time     `json:"last_checked"`
	ResponseTime time.Duration `json:"response_time"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertKind names the threshold that was breached
type AlertKind string

const (
	AlertResponseTime      AlertKind = "response_time"
	AlertErrorRate         AlertKind = "error_rate"
	AlertResourceUsage     AlertKind = "resource_usage"
	AlertSystemUnavailable AlertKind = "system_unavailable"
)

// Alert is an entry in the append-only alert log. Only Resolved and
// ResolvedAt change after creation.
type Alert struct {
	ID         string                 `json:"id"`
	Kind       AlertKind              `json:"kind"`
	Severity   Severity               `json:"severity"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}
