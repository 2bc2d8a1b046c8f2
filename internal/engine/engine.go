// Package engine is the optimization orchestrator. It captures the settings a
// session is about to change, applies a tuning profile through the platform
// dispatcher, watches the link from a single monitor goroutine and replays
// the captured settings on Stop.
//
// Lifecycle: Idle → Starting → Active → Stopping → Idle. All apply and
// restore calls are serialised through one writer lock; readers see an
// immutable Status swapped in atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vesaa/signalboost/internal/apperr"
	"github.com/vesaa/signalboost/internal/diag"
	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/platform"
	"github.com/vesaa/signalboost/internal/profile"
)

// ErrInvalidOptions is returned for malformed Start/SetLevel arguments.
var ErrInvalidOptions = errors.New("invalid optimization options")

// Platform is the dispatcher surface the orchestrator drives.
type Platform interface {
	diag.Prober

	Platform() platform.Platform
	ActiveInterface(ctx context.Context) (netinfo.Interface, error)
	ListInterfaces(ctx context.Context) ([]netinfo.Interface, error)
	IsElevated(ctx context.Context) bool

	CaptureBaseline(ctx context.Context, iface string) (netinfo.Baseline, error)
	Restore(ctx context.Context, s netinfo.Setting) error

	SetDNSServers(ctx context.Context, servers []string, iface string) error
	ApplyTCP(ctx context.Context, p profile.Params) error
	ApplyWireless(ctx context.Context, iface string, p profile.Params) error
	ApplyTrafficPriority(ctx context.Context, iface string, p profile.Params) error
	ApplyBuffers(ctx context.Context, iface string, p profile.Params) error
	ProbeMTU(ctx context.Context, target string, size int) bool
	SetMTU(ctx context.Context, iface string, mtu int) error
	ApplyShaping(ctx context.Context, iface string, rateMbps float64) error
	EnablePacketAccounting(ctx context.Context) error
	ClearBuffers(ctx context.Context) error
}

// Diagnostics runs measurement passes; *diag.Engine satisfies it.
type Diagnostics interface {
	Run(ctx context.Context, iface netinfo.Interface, opts ...diag.RunOption) netinfo.Snapshot
	BenchmarkDNS(ctx context.Context, servers []string) []diag.DNSResult
}

// Config holds the orchestrator timing and target defaults.
type Config struct {
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`
	MonitorBandwidth time.Duration `mapstructure:"monitor_bandwidth"`
	JoinTimeout      time.Duration `mapstructure:"join_timeout"`
	ReapplyInterval  time.Duration `mapstructure:"reapply_interval"`
	TargetSignal     int           `mapstructure:"target_signal"`
	HistorySize      int           `mapstructure:"history_size"`
	ShapingHeadroom  float64       `mapstructure:"shaping_headroom"`
	MTUTarget        string        `mapstructure:"mtu_target"`
}

// DefaultConfig returns the stock orchestrator settings.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:  2 * time.Second,
		MonitorBandwidth: 3 * time.Second,
		JoinTimeout:      5 * time.Second,
		ReapplyInterval:  30 * time.Second,
		TargetSignal:     85,
		HistorySize:      100,
		ShapingHeadroom:  0.9,
		MTUTarget:        "8.8.8.8",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.MonitorBandwidth <= 0 {
		c.MonitorBandwidth = d.MonitorBandwidth
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.ReapplyInterval <= 0 {
		c.ReapplyInterval = d.ReapplyInterval
	}
	if c.TargetSignal <= 0 {
		c.TargetSignal = d.TargetSignal
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.ShapingHeadroom <= 0 || c.ShapingHeadroom > 1 {
		c.ShapingHeadroom = d.ShapingHeadroom
	}
	if c.MTUTarget == "" {
		c.MTUTarget = d.MTUTarget
	}
	return c
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRecorder adds an observer. May be given more than once.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rec = append(o.rec, r)
		}
	}
}

// session is the immutable per-run configuration. SetLevel swaps in a new
// one instead of editing it.
type session struct {
	info      SessionInfo
	iface     netinfo.Interface
	opts      Options
	profile   profile.Profile
	features  profile.Features
	shapeMbps float64
}

func (s *session) withLevel(level profile.Level) *session {
	next := *s
	next.opts.Level = level
	next.info.Level = level
	next.profile = profile.Resolve(level, s.info.ConnectionType, s.opts.Overrides)
	next.features = profile.FeaturesFor(level).With(s.opts.Features)
	return &next
}

// Orchestrator drives one optimization session at a time.
type Orchestrator struct {
	p       Platform
	d       Diagnostics
	cfg     Config
	log     *zap.Logger
	rec     recorders
	history *netinfo.History

	mu       sync.Mutex
	state    State
	baseline *netinfo.Baseline
	cancel   context.CancelFunc
	done     chan struct{}

	sess    atomic.Pointer[session]
	applyMu sync.Mutex

	pubMu  sync.Mutex
	status atomic.Pointer[Status]
}

// New returns an idle Orchestrator.
func New(p Platform, d Diagnostics, cfg Config, opts ...Option) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		p:       p,
		d:       d,
		cfg:     cfg,
		log:     zap.NewNop(),
		history: netinfo.NewHistory(cfg.HistorySize),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("engine")
	o.status.Store(&Status{
		State:        Idle.String(),
		Platform:     string(p.Platform()),
		Level:        profile.Standard,
		TargetSignal: cfg.TargetSignal,
		Features:     profile.FeaturesFor(profile.Standard),
		UpdatedAt:    time.Now(),
	})
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Start begins a session: it captures the baseline, seeds the history with
// one diagnostic pass, applies the resolved profile and launches the monitor
// loop. It returns once the initial apply has completed.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (ApplyReport, error) {
	if err := opts.validate(); err != nil {
		return ApplyReport{}, err
	}

	o.mu.Lock()
	if o.state != Idle || o.baseline != nil {
		err := apperr.ErrAlreadyActive
		if o.state == Idle {
			err = apperr.ErrBaselineHeld
		}
		state := o.state
		o.mu.Unlock()
		o.log.Warn("start ignored", zap.Stringer("state", state), zap.Error(err))
		return ApplyReport{}, err
	}
	o.state = Starting
	o.mu.Unlock()
	o.update(func(s *Status) { s.State = Starting.String() })

	s, baseline, seed, err := o.prepare(ctx, opts)
	if err != nil {
		o.mu.Lock()
		o.state = Idle
		o.mu.Unlock()
		o.update(func(s *Status) { s.State = Idle.String() })
		o.log.Error("start failed", zap.Error(err))
		return ApplyReport{}, err
	}

	o.mu.Lock()
	o.baseline = &baseline
	o.mu.Unlock()
	o.sess.Store(s)
	o.history.Append(seed)
	value := optimizationValue(seed, s.opts.TargetSpeed, s.opts.TargetSignal)
	o.rec.RecordSessionStart(s.info)
	o.rec.RecordSnapshot(s.info.ID, seed, value)

	report := o.apply(ctx, s, seed, TriggerStart)
	o.rec.RecordApply(report)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	limiter := rate.NewLimiter(rate.Every(o.cfg.ReapplyInterval), 1)

	o.mu.Lock()
	o.state = Active
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	elevated := o.p.IsElevated(ctx)
	o.update(func(st *Status) {
		st.Active = true
		st.State = Active.String()
		st.SessionID = s.info.ID
		st.Interface = s.iface.Name
		st.ConnectionType = s.info.ConnectionType
		st.Level = s.info.Level
		st.TargetSpeed = s.opts.TargetSpeed
		st.TargetSignal = s.opts.TargetSignal
		st.Features = s.features
		st.Elevated = elevated
		st.Reapplies = 0
		st.LastApply = &report
		st.StartedAt = s.info.StartedAt
		st.observe(seed, value)
	})

	go o.monitor(loopCtx, done, limiter)

	o.log.Info("optimization started",
		zap.String("session", s.info.ID),
		zap.String("iface", s.iface.Name),
		zap.Stringer("level", s.info.Level),
		zap.String("connection", string(s.info.ConnectionType)),
		zap.Strings("applied", report.Applied),
		zap.Strings("failed", report.Failed))
	return report, nil
}

// prepare resolves everything a session needs before the first apply.
func (o *Orchestrator) prepare(ctx context.Context, opts Options) (*session, netinfo.Baseline, netinfo.Snapshot, error) {
	iface, err := o.resolveInterface(ctx, opts.Interface)
	if err != nil {
		return nil, netinfo.Baseline{}, netinfo.Snapshot{}, err
	}

	baseline, err := o.p.CaptureBaseline(ctx, iface.Name)
	switch {
	case err == nil:
	case apperr.IsKind(err, apperr.KindUnsupported):
		o.log.Warn("baseline capture unsupported; nothing will be restored", zap.String("platform", baseline.Platform))
	case len(baseline.Settings) == 0:
		return nil, netinfo.Baseline{}, netinfo.Snapshot{}, fmt.Errorf("capturing baseline: %w", err)
	default:
		o.log.Warn("baseline partially captured", zap.Int("settings", len(baseline.Settings)), zap.Error(err))
	}

	seed := o.d.Run(ctx, iface, diag.WithBandwidthDuration(o.cfg.MonitorBandwidth))

	conn := opts.ConnectionType
	if conn == "" || conn == profile.Unknown {
		channel := 0
		if iface.IsWireless {
			channel, _ = o.p.CurrentChannel(ctx, iface.Name)
		}
		conn = diag.DetectConnectionType(iface, channel)
	}
	if opts.TargetSignal <= 0 {
		opts.TargetSignal = o.cfg.TargetSignal
	}

	s := &session{
		info: SessionInfo{
			ID:             uuid.NewString(),
			Platform:       string(o.p.Platform()),
			Interface:      iface.Name,
			ConnectionType: conn,
			Level:          opts.Level,
			TargetSpeed:    opts.TargetSpeed,
			TargetSignal:   opts.TargetSignal,
			StartedAt:      time.Now(),
		},
		iface:     iface,
		opts:      opts,
		profile:   profile.Resolve(opts.Level, conn, opts.Overrides),
		features:  profile.FeaturesFor(opts.Level).With(opts.Features),
		shapeMbps: seed.UploadMbps * o.cfg.ShapingHeadroom,
	}
	return s, baseline, seed, nil
}

func (o *Orchestrator) resolveInterface(ctx context.Context, name string) (netinfo.Interface, error) {
	if name == "" {
		return o.p.ActiveInterface(ctx)
	}
	ifaces, err := o.p.ListInterfaces(ctx)
	if err != nil {
		return netinfo.Interface{}, err
	}
	for _, it := range ifaces {
		if it.Name == name {
			return it, nil
		}
	}
	return netinfo.Interface{}, fmt.Errorf("%w: interface %q not found", ErrInvalidOptions, name)
}

// Stop ends the session: it cancels the monitor loop, waits up to
// JoinTimeout for it, then replays every baseline setting once in reverse
// capture order. Calling Stop when no session is active is a logged no-op.
func (o *Orchestrator) Stop(ctx context.Context) (RestoreReport, error) {
	o.mu.Lock()
	if o.state != Active {
		state := o.state
		o.mu.Unlock()
		o.log.Warn("stop ignored", zap.Stringer("state", state))
		return RestoreReport{}, apperr.ErrNotActive
	}
	o.state = Stopping
	cancel, done, baseline := o.cancel, o.done, o.baseline
	o.mu.Unlock()

	s := o.sess.Swap(nil)
	o.update(func(st *Status) { st.State = Stopping.String() })

	cancel()
	joined := true
	timer := time.NewTimer(o.cfg.JoinTimeout)
	select {
	case <-done:
		timer.Stop()
	case <-timer.C:
		joined = false
		o.log.Warn("monitor loop did not exit in time; restoring anyway", zap.Duration("timeout", o.cfg.JoinTimeout))
	}

	report := o.restore(ctx, baseline)
	report.LoopJoined = joined
	if s != nil {
		report.SessionID = s.info.ID
	}

	o.mu.Lock()
	o.baseline = nil
	o.cancel = nil
	o.done = nil
	o.state = Idle
	o.mu.Unlock()
	o.update(func(st *Status) {
		st.Active = false
		st.State = Idle.String()
		st.SessionID = ""
	})

	if s != nil {
		o.rec.RecordSessionEnd(s.info, report)
	}
	o.log.Info("optimization stopped",
		zap.String("session", report.SessionID),
		zap.Int("restored", len(report.Restored)),
		zap.Strings("failed", report.Failed),
		zap.Bool("loop_joined", joined))
	return report, nil
}

func (o *Orchestrator) restore(ctx context.Context, b *netinfo.Baseline) RestoreReport {
	o.applyMu.Lock()
	defer o.applyMu.Unlock()

	report := RestoreReport{StoppedAt: time.Now()}
	if b == nil {
		return report
	}
	for i := len(b.Settings) - 1; i >= 0; i-- {
		s := b.Settings[i]
		if err := o.p.Restore(ctx, s); err != nil {
			report.Failed = append(report.Failed, s.ID())
			if report.Warnings == nil {
				report.Warnings = make(map[string]string)
			}
			report.Warnings[s.ID()] = err.Error()
			o.log.Warn("restore failed", zap.String("setting", s.ID()), zap.Error(err))
			continue
		}
		report.Restored = append(report.Restored, s.ID())
	}
	return report
}

// SetLevel switches the active session to level and re-applies. It waits
// for any in-flight apply to finish first.
func (o *Orchestrator) SetLevel(ctx context.Context, level profile.Level) (ApplyReport, error) {
	if !level.Valid() {
		return ApplyReport{}, fmt.Errorf("%w: level %d", ErrInvalidOptions, int(level))
	}
	o.mu.Lock()
	if o.state != Active {
		state := o.state
		o.mu.Unlock()
		o.log.Warn("level change ignored", zap.Stringer("state", state))
		return ApplyReport{}, apperr.ErrNotActive
	}
	cur := o.sess.Load()
	o.mu.Unlock()
	if cur == nil {
		return ApplyReport{}, apperr.ErrNotActive
	}

	// Stop may have swapped the session out since the state check.
	next := cur.withLevel(level)
	if !o.sess.CompareAndSwap(cur, next) {
		o.log.Warn("level change ignored", zap.String("reason", "session ended"))
		return ApplyReport{}, apperr.ErrNotActive
	}
	snap, _ := o.history.Latest()
	report := o.apply(ctx, next, snap, TriggerLevel)
	o.rec.RecordApply(report)

	if o.sess.Load() == next {
		o.update(func(st *Status) {
			st.Level = level
			st.Features = next.features
			st.LastApply = &report
		})
	}
	o.log.Info("optimization level changed",
		zap.Stringer("from", cur.info.Level),
		zap.Stringer("to", level),
		zap.Strings("failed", report.Failed))
	return report, nil
}

// Settle blocks while a Start is in progress and returns the state it ends
// in. When ctx is done first it returns the state at that moment.
func (o *Orchestrator) Settle(ctx context.Context) State {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if st := o.State(); st != Starting {
			return st
		}
		select {
		case <-ctx.Done():
			return o.State()
		case <-ticker.C:
		}
	}
}

// ── Readers ──────────────────────────────────────────────────────────────────

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the latest published status.
func (o *Orchestrator) Status() Status {
	return *o.status.Load()
}

// CurrentMetrics returns the latest snapshot with the session's feature flags.
func (o *Orchestrator) CurrentMetrics() Metrics {
	st := o.Status()
	snap, _ := o.history.Latest()
	return Metrics{
		Snapshot:          snap,
		SignalText:        netinfo.SignalText(snap.SignalStrength),
		OptimizationValue: st.OptimizationValue,
		Features:          st.Features.Map(),
	}
}

// History returns a copy of the snapshot ring, oldest first.
func (o *Orchestrator) History() []netinfo.Snapshot {
	return o.history.Snapshots()
}

// ListInterfaces enumerates the host interfaces.
func (o *Orchestrator) ListInterfaces(ctx context.Context) ([]netinfo.Interface, error) {
	return o.p.ListInterfaces(ctx)
}

// update publishes a modified copy of the status.
func (o *Orchestrator) update(fn func(*Status)) {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()
	next := *o.status.Load()
	fn(&next)
	next.UpdatedAt = time.Now()
	o.status.Store(&next)
}

func (s *Status) observe(snap netinfo.Snapshot, value float64) {
	s.CurrentSpeed = snap.DownloadMbps
	s.CurrentUpload = snap.UploadMbps
	s.CurrentSignal = snap.SignalStrength
	s.CurrentLatency = snap.LatencyAvg
	s.OptimizationValue = value
}

func (opts Options) validate() error {
	if !opts.Level.Valid() {
		return fmt.Errorf("%w: level %d", ErrInvalidOptions, int(opts.Level))
	}
	if opts.TargetSpeed <= 0 {
		return fmt.Errorf("%w: target speed must be positive", ErrInvalidOptions)
	}
	if opts.TargetSignal < 0 || opts.TargetSignal > 100 {
		return fmt.Errorf("%w: target signal must be within 0-100", ErrInvalidOptions)
	}
	return nil
}
