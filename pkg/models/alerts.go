// Package models pkg/models/alerts.go
package models

import "time"

// Severity is the alert severity tier.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Comparison is the direction a rule compares the observed value against its
// threshold. Most rules fire when the value exceeds the threshold; a few
// (integration success rate, connectivity) fire when it falls below.
type Comparison string

const (
	CompareAbove Comparison = "above"
	CompareBelow Comparison = "below"
)

// AlertRule is the configuration for one alert type. Identity and comparison
// direction are fixed at construction; threshold, cooldown, enabled flag and
// channel list may be replaced at runtime through a validated update.
type AlertRule struct {
	Type            string     `json:"type"`
	Severity        Severity   `json:"severity"`
	Threshold       float64    `json:"threshold"`
	Comparison      Comparison `json:"comparison"`
	WindowMinutes   int        `json:"window_minutes"`
	CooldownMinutes int        `json:"cooldown_minutes"`
	Enabled         bool       `json:"enabled"`
	Channels        []string   `json:"channels"`
}

// RulePatch is a partial update to an AlertRule. Nil fields are left
// untouched.
type RulePatch struct {
	Severity        *Severity `json:"severity,omitempty"`
	Threshold       *float64  `json:"threshold,omitempty"`
	CooldownMinutes *int      `json:"cooldown_minutes,omitempty"`
	Enabled         *bool     `json:"enabled,omitempty"`
	Channels        []string  `json:"channels,omitempty"`
}

// AlertInstance is created when a rule fires. Instances are immutable after
// creation and live in a bounded in-memory history.
type AlertInstance struct {
	Type             string         `json:"type"`
	Severity         Severity       `json:"severity"`
	Message          string         `json:"message"`
	Details          map[string]any `json:"details,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Threshold        float64        `json:"threshold"`
	CurrentValue     float64        `json:"current_value"`
	AffectedEntities []string       `json:"affected_entities,omitempty"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
}

// AlertStats aggregates the alert history for operator dashboards.
type AlertStats struct {
	TotalAlerts int64            `json:"total_alerts"`
	ByType      map[string]int64 `json:"by_type"`
	BySeverity  map[string]int64 `json:"by_severity"`
}
