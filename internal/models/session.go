// Package models defines the GORM models of the optimization history.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Session is one optimization run, from Start to Stop.
type Session struct {
	gorm.Model

	// Identity
	UUID      string `gorm:"uniqueIndex;not null" json:"uuid"`
	Platform  string `json:"platform"`
	Interface string `gorm:"index" json:"interface"`

	// Parameters
	ConnectionType string  `json:"connection_type"`
	Level          string  `gorm:"index" json:"level"`
	TargetSpeed    float64 `json:"target_speed"`
	TargetSignal   int     `json:"target_signal"`

	// Outcome of the initial apply; FailedSteps is comma separated
	Success     bool   `json:"success"`
	FailedSteps string `json:"failed_steps"`
	Reapplies   int    `gorm:"default:0" json:"reapplies"`

	// Lifecycle
	StartedAt     time.Time  `gorm:"index" json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	Restored      int        `json:"restored"`
	RestoreFailed int        `json:"restore_failed"`
}

// ApplyRecord is the outcome of one step of an apply run.
type ApplyRecord struct {
	gorm.Model

	SessionUUID string    `gorm:"index;not null" json:"session_uuid"`
	Trigger     string    `json:"trigger"`
	Level       string    `json:"level"`
	Step        string    `gorm:"index" json:"step"`
	Result      string    `json:"result"` // applied, failed or skipped
	Message     string    `json:"message,omitempty"`
	AppliedAt   time.Time `json:"applied_at"`
}
