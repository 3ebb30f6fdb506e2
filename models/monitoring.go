package models

import "time"

// MonitoringConfig is the process-wide polling configuration. It is read by
// the scheduler at the top of every cycle, so changes take effect on the
// next cycle.
type MonitoringConfig struct {
	PollingInterval int  `json:"polling_interval"` // seconds
	AutoClick       bool `json:"auto_click"`
}

const (
	MinPollingInterval = 10
	MaxPollingInterval = 3600
)

// Clamp bounds the polling interval to the supported range.
func (c *MonitoringConfig) Clamp() {
	if c.PollingInterval < MinPollingInterval {
		c.PollingInterval = MinPollingInterval
	}
	if c.PollingInterval > MaxPollingInterval {
		c.PollingInterval = MaxPollingInterval
	}
}

// Stats is the dashboard snapshot of aggregate counters and run state
type Stats struct {
	TotalEmails      int        `json:"total_emails"`
	HouseholdEmails  int        `json:"household_emails"`
	AccessCodeEmails int        `json:"access_code_emails"`
	LinksClicked     int        `json:"links_clicked"`
	Errors           int        `json:"errors"`
	ActiveAccounts   int        `json:"active_accounts"`
	IsMonitoring     bool       `json:"is_monitoring"`
	LastCheck        *time.Time `json:"last_check"`
}

// MonitorStatus is the legacy status shape consumed by the dashboard header
type MonitorStatus struct {
	IsRunning       bool       `json:"is_running"`
	LastCheck       *time.Time `json:"last_check"`
	EmailsProcessed int        `json:"emails_processed"`
	LinksClicked    int        `json:"links_clicked"`
	Errors          int        `json:"errors"`
}

// LogLevel is the severity of an activity log entry
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one line of the operator-visible activity trail
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}
