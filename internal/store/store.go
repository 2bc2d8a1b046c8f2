// Package store persists optimization sessions, apply outcomes and
// diagnostic snapshots with GORM on SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vesaa/signalboost/internal/engine"
	"github.com/vesaa/signalboost/internal/models"
	"github.com/vesaa/signalboost/internal/netinfo"
)

// DefaultRetention is the number of snapshot rows kept.
const DefaultRetention = 5000

// Store is the history database. It implements engine.Recorder; write
// errors are logged, never returned to the engine.
type Store struct {
	db   *gorm.DB
	log  *zap.Logger
	keep int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRetention keeps at most n snapshot rows; n <= 0 keeps everything.
func WithRetention(n int) Option {
	return func(s *Store) { s.keep = n }
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: empty database path")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db, log: zap.NewNop(), keep: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("store")
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	s.log.Info("database opened", zap.String("path", path))
	return s, nil
}

// AutoMigrate creates or updates the tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&models.Session{}, &models.ApplyRecord{}, &models.SnapshotRecord{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ── engine.Recorder ──────────────────────────────────────────────────────────

func (s *Store) RecordSessionStart(info engine.SessionInfo) {
	row := models.Session{
		UUID:           info.ID,
		Platform:       info.Platform,
		Interface:      info.Interface,
		ConnectionType: string(info.ConnectionType),
		Level:          info.Level.String(),
		TargetSpeed:    info.TargetSpeed,
		TargetSignal:   info.TargetSignal,
		StartedAt:      info.StartedAt,
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.log.Warn("saving session", zap.String("session", info.ID), zap.Error(err))
	}
}

func (s *Store) RecordSnapshot(sessionID string, snap netinfo.Snapshot, value float64) {
	row := models.SnapshotRecord{
		SessionUUID:       sessionID,
		Interface:         snap.Interface,
		LatencyMin:        snap.LatencyMin,
		LatencyAvg:        snap.LatencyAvg,
		LatencyMax:        snap.LatencyMax,
		Jitter:            snap.Jitter,
		PacketLoss:        snap.PacketLoss,
		DownloadMbps:      snap.DownloadMbps,
		UploadMbps:        snap.UploadMbps,
		SignalStrength:    snap.SignalStrength,
		CongestionScore:   snap.CongestionScore,
		InterferenceScore: snap.InterferenceScore,
		QualityScore:      snap.QualityScore,
		QualityRating:     snap.QualityRating,
		OptimizationValue: value,
		MeasuredAt:        snap.Timestamp,
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.log.Warn("saving snapshot", zap.Error(err))
		return
	}
	if s.keep > 0 && row.ID > uint(s.keep) {
		cutoff := row.ID - uint(s.keep)
		if err := s.db.Unscoped().Where("id <= ?", cutoff).Delete(&models.SnapshotRecord{}).Error; err != nil {
			s.log.Warn("pruning snapshots", zap.Error(err))
		}
	}
}

func (s *Store) RecordApply(r engine.ApplyReport) {
	rows := make([]models.ApplyRecord, 0, len(r.Applied)+len(r.Failed)+len(r.Skipped))
	add := func(steps []string, result string) {
		for _, step := range steps {
			rows = append(rows, models.ApplyRecord{
				SessionUUID: r.SessionID,
				Trigger:     string(r.Trigger),
				Level:       r.Level.String(),
				Step:        step,
				Result:      result,
				Message:     r.Messages[step],
				AppliedAt:   r.StartedAt,
			})
		}
	}
	add(r.Applied, "applied")
	add(r.Failed, "failed")
	add(r.Skipped, "skipped")

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		q := tx.Model(&models.Session{}).Where("uuid = ?", r.SessionID)
		switch r.Trigger {
		case engine.TriggerStart:
			return q.Updates(map[string]any{
				"success":      r.Success,
				"failed_steps": strings.Join(r.Failed, ","),
			}).Error
		case engine.TriggerMonitor:
			return q.Update("reapplies", gorm.Expr("reapplies + 1")).Error
		case engine.TriggerLevel:
			return q.Update("level", r.Level.String()).Error
		}
		return nil
	})
	if err != nil {
		s.log.Warn("saving apply report", zap.String("session", r.SessionID), zap.Error(err))
	}
}

func (s *Store) RecordSessionEnd(info engine.SessionInfo, r engine.RestoreReport) {
	stopped := r.StoppedAt
	if stopped.IsZero() {
		stopped = time.Now()
	}
	err := s.db.Model(&models.Session{}).Where("uuid = ?", info.ID).Updates(map[string]any{
		"stopped_at":     stopped,
		"restored":       len(r.Restored),
		"restore_failed": len(r.Failed),
	}).Error
	if err != nil {
		s.log.Warn("closing session", zap.String("session", info.ID), zap.Error(err))
	}
}

// ── Queries ──────────────────────────────────────────────────────────────────

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]models.SnapshotRecord, error) {
	var rows []models.SnapshotRecord
	err := s.db.WithContext(ctx).Order("id desc").Limit(clampLimit(limit)).Find(&rows).Error
	return rows, err
}

// Sessions returns up to limit sessions, most recently started first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]models.Session, error) {
	var rows []models.Session
	err := s.db.WithContext(ctx).Order("started_at desc").Limit(clampLimit(limit)).Find(&rows).Error
	return rows, err
}

// Session returns one session by UUID.
func (s *Store) Session(ctx context.Context, uuid string) (*models.Session, error) {
	var row models.Session
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Applies returns the step outcomes of a session in recording order.
func (s *Store) Applies(ctx context.Context, sessionUUID string) ([]models.ApplyRecord, error) {
	var rows []models.ApplyRecord
	err := s.db.WithContext(ctx).Where("session_uuid = ?", sessionUUID).Order("id asc").Find(&rows).Error
	return rows, err
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 100
	case n > 1000:
		return 1000
	}
	return n
}
