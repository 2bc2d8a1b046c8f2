package engine

import (
	"time"

	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	Idle State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	}
	return "invalid"
}

// Apply step names, in execution order.
const (
	StepDNS              = "dns_servers"
	StepTCP              = "tcp"
	StepWireless         = "wifi"
	StepQoS              = "qos"
	StepBuffers          = "buffers"
	StepMTU              = "mtu"
	StepShaping          = "bandwidth_shaping"
	StepPacketAccounting = "packet_accounting"
	StepChannel          = "channel"
	StepClearBuffers     = "clear_buffers"
)

// Trigger names what caused an apply run.
type Trigger string

const (
	TriggerStart   Trigger = "start"
	TriggerLevel   Trigger = "level"
	TriggerMonitor Trigger = "monitor"
)

// Options parameterise one optimization session.
type Options struct {
	TargetSpeed    float64                  `json:"target_speed"`
	TargetSignal   int                      `json:"target_signal,omitempty"`
	Level          profile.Level            `json:"level"`
	ConnectionType profile.ConnectionType   `json:"connection_type,omitempty"`
	Interface      string                   `json:"interface,omitempty"`
	Overrides      profile.Params           `json:"overrides,omitempty"`
	Features       profile.FeatureOverrides `json:"features,omitempty"`
}

// SessionInfo describes a running or finished session.
type SessionInfo struct {
	ID             string                 `json:"id"`
	Platform       string                 `json:"platform"`
	Interface      string                 `json:"interface"`
	ConnectionType profile.ConnectionType `json:"connection_type"`
	Level          profile.Level          `json:"level"`
	TargetSpeed    float64                `json:"target_speed"`
	TargetSignal   int                    `json:"target_signal"`
	StartedAt      time.Time              `json:"started_at"`
}

// ApplyReport is the outcome of one run of the apply sequence.
type ApplyReport struct {
	SessionID string            `json:"session_id"`
	Level     profile.Level     `json:"level"`
	Trigger   Trigger           `json:"trigger"`
	Success   bool              `json:"success"`
	Applied   []string          `json:"applied"`
	Failed    []string          `json:"failed"`
	Skipped   []string          `json:"skipped"`
	Messages  map[string]string `json:"messages,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// RestoreReport is the outcome of replaying a baseline.
type RestoreReport struct {
	SessionID  string            `json:"session_id"`
	Restored   []string          `json:"restored"`
	Failed     []string          `json:"failed"`
	Warnings   map[string]string `json:"warnings,omitempty"`
	LoopJoined bool              `json:"loop_joined"`
	StoppedAt  time.Time         `json:"stopped_at"`
}

// Status is an immutable view of the orchestrator, replaced wholesale on
// every change.
type Status struct {
	Active            bool                   `json:"active"`
	State             string                 `json:"state"`
	SessionID         string                 `json:"session_id,omitempty"`
	Platform          string                 `json:"platform"`
	Interface         string                 `json:"interface,omitempty"`
	ConnectionType    profile.ConnectionType `json:"connection_type,omitempty"`
	Level             profile.Level          `json:"level"`
	TargetSpeed       float64                `json:"target_speed"`
	TargetSignal      int                    `json:"target_signal"`
	CurrentSpeed      float64                `json:"current_speed"`
	CurrentUpload     float64                `json:"current_upload"`
	CurrentSignal     int                    `json:"current_signal"`
	CurrentLatency    float64                `json:"current_latency"`
	OptimizationValue float64                `json:"optimization_value"`
	Reapplies         int                    `json:"reapplies"`
	Elevated          bool                   `json:"elevated"`
	Features          profile.Features       `json:"features"`
	LastApply         *ApplyReport           `json:"last_apply,omitempty"`
	StartedAt         time.Time              `json:"started_at,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Metrics is the latest snapshot flattened together with the feature flags.
type Metrics struct {
	netinfo.Snapshot
	SignalText        string          `json:"signal_text"`
	OptimizationValue float64         `json:"optimization_value"`
	Features          map[string]bool `json:"features"`
}

// Recorder observes the orchestrator. Calls are made synchronously from the
// goroutine that produced the event and must not block for long.
type Recorder interface {
	RecordSessionStart(info SessionInfo)
	RecordSnapshot(sessionID string, snap netinfo.Snapshot, optimizationValue float64)
	RecordApply(report ApplyReport)
	RecordSessionEnd(info SessionInfo, report RestoreReport)
}
