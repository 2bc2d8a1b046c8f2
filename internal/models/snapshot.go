package models

import (
	"time"

	"gorm.io/gorm"
)

// SnapshotRecord stores one diagnostic pass. Only the latest rows are kept;
// see store.WithRetention.
type SnapshotRecord struct {
	gorm.Model

	SessionUUID string `gorm:"index" json:"session_uuid"`
	Interface   string `json:"interface"`

	// ── Path ─────────────────────────────────────────────────────────────────
	LatencyMin float64 `json:"latency_min_ms"`
	LatencyAvg float64 `json:"latency_avg_ms"`
	LatencyMax float64 `json:"latency_max_ms"`
	Jitter     float64 `json:"jitter_ms"`
	PacketLoss float64 `json:"packet_loss_pct"`

	// ── Throughput ───────────────────────────────────────────────────────────
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`

	// ── Link ─────────────────────────────────────────────────────────────────
	SignalStrength    int     `json:"signal_strength"`
	CongestionScore   float64 `json:"congestion_score"`
	InterferenceScore float64 `json:"interference_score"`

	// ── Derived ──────────────────────────────────────────────────────────────
	QualityScore      int       `json:"quality_score"`
	QualityRating     string    `json:"quality_rating"`
	OptimizationValue float64   `json:"optimization_value"`
	MeasuredAt        time.Time `gorm:"index" json:"measured_at"`
}
