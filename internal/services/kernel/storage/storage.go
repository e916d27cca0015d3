package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested launch record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a launch id was recorded twice.
	ErrAlreadyExists = errors.New("record already exists")
)

// KernelLaunch records one kernel process started by the bridge.
type KernelLaunch struct {
	ID             string     `json:"id"`
	PID            int        `json:"pid"`
	ConnectionFile string     `json:"connection_file"`
	Command        []string   `json:"command"`
	StartedAt      time.Time  `json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
}

// Running reports whether no exit was recorded for the launch.
func (l KernelLaunch) Running() bool {
	return l.StoppedAt == nil
}

// LaunchStore persists kernel launch records.
type LaunchStore interface {
	RecordLaunch(ctx context.Context, launch KernelLaunch) error
	MarkLaunchStopped(ctx context.Context, id string, stoppedAt time.Time, exitCode int) error
	GetLaunch(ctx context.Context, id string) (KernelLaunch, error)
	// ListLaunches returns the most recent launches first.
	ListLaunches(ctx context.Context, limit int) ([]KernelLaunch, error)
}
