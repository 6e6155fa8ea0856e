package domain

import (
	"fmt"
	"strings"
	"time"
)

// AutoSyncState is the persisted singleton describing the recurring job.
type AutoSyncState struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at"`
	Interval  string     `json:"interval"`
	PID       int        `json:"pid"`
}

// intervalLabels are the human labels accepted in addition to Go durations.
var intervalLabels = map[string]time.Duration{
	"every 1 minute":   time.Minute,
	"every 5 minutes":  5 * time.Minute,
	"every 15 minutes": 15 * time.Minute,
	"every 30 minutes": 30 * time.Minute,
	"every hour":       time.Hour,
}

// ParseInterval accepts Go durations ("5m") and labels such as "Every 5 minutes".
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	if d, ok := intervalLabels[strings.ToLower(s)]; ok {
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", s)
	}
	return d, nil
}
