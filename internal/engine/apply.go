package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesaa/signalboost/internal/apperr"
	"github.com/vesaa/signalboost/internal/diag"
	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
	"github.com/vesaa/signalboost/internal/search"
)

// step is one fault-isolated unit of the apply sequence. run may return a
// short human-readable note alongside success.
type step struct {
	name    string
	enabled bool
	run     func(ctx context.Context) (string, error)
}

// apply runs the apply sequence for s under the writer lock. A step that
// fails is recorded and the sequence continues; an unsupported step counts
// as skipped. Once ctx is done, or s is no longer the current session, the
// remaining steps are skipped.
func (o *Orchestrator) apply(ctx context.Context, s *session, snap netinfo.Snapshot, trigger Trigger) ApplyReport {
	o.applyMu.Lock()
	defer o.applyMu.Unlock()

	report := ApplyReport{
		SessionID: s.info.ID,
		Level:     s.info.Level,
		Trigger:   trigger,
		Messages:  make(map[string]string),
		StartedAt: time.Now(),
	}
	log := o.log.With(zap.String("session", s.info.ID), zap.String("trigger", string(trigger)))

	for _, st := range o.steps(s, snap, trigger) {
		if !st.enabled {
			report.Skipped = append(report.Skipped, st.name)
			continue
		}
		if ctx.Err() != nil || o.sess.Load() != s {
			report.Skipped = append(report.Skipped, st.name)
			report.Messages[st.name] = "superseded"
			continue
		}
		note, err := st.run(ctx)
		switch {
		case err == nil:
			report.Applied = append(report.Applied, st.name)
			if note != "" {
				report.Messages[st.name] = note
			}
			log.Debug("step applied", zap.String("step", st.name), zap.String("note", note))
		case apperr.IsKind(err, apperr.KindUnsupported):
			report.Skipped = append(report.Skipped, st.name)
			report.Messages[st.name] = err.Error()
			log.Debug("step unsupported", zap.String("step", st.name))
		default:
			report.Failed = append(report.Failed, st.name)
			report.Messages[st.name] = err.Error()
			log.Warn("step failed", zap.String("step", st.name), zap.Error(err))
		}
	}

	report.Success = len(report.Applied) > 0
	report.Duration = time.Since(report.StartedAt)
	return report
}

// steps lays out the sequence: dns_servers → tcp → wifi → qos → buffers →
// mtu → bandwidth_shaping → packet_accounting → channel → clear_buffers.
func (o *Orchestrator) steps(s *session, snap netinfo.Snapshot, trigger Trigger) []step {
	var (
		p     = s.profile
		f     = s.features
		name  = s.iface.Name
		level = s.info.Level
		qos   = p.Group(profile.GroupQoS)
	)
	return []step{
		{
			name:    StepDNS,
			enabled: len(p.Group(profile.GroupDNS).Strings("nameservers")) > 0,
			run: func(ctx context.Context) (string, error) {
				servers := p.Group(profile.GroupDNS).Strings("nameservers")
				if f.DNSPrefetch {
					servers = o.rankDNS(ctx, servers)
				}
				if err := o.p.SetDNSServers(ctx, servers, name); err != nil {
					return "", err
				}
				return strings.Join(servers, ","), nil
			},
		},
		{
			name:    StepTCP,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return "", o.p.ApplyTCP(ctx, p.Group(profile.GroupTCP))
			},
		},
		{
			name:    StepWireless,
			enabled: s.iface.IsWireless,
			run: func(ctx context.Context) (string, error) {
				return "", o.p.ApplyWireless(ctx, name, p.Group(profile.GroupWiFi))
			},
		},
		{
			name:    StepQoS,
			enabled: f.PacketPrioritization && qos.Bool("enabled"),
			run: func(ctx context.Context) (string, error) {
				return "", o.p.ApplyTrafficPriority(ctx, name, qos)
			},
		},
		{
			name:    StepBuffers,
			enabled: level >= profile.Standard,
			run: func(ctx context.Context) (string, error) {
				return "", o.p.ApplyBuffers(ctx, name, p.Group(profile.GroupBuffer))
			},
		},
		{
			name:    StepMTU,
			enabled: level >= profile.Aggressive && trigger != TriggerMonitor,
			run: func(ctx context.Context) (string, error) {
				return o.tuneMTU(ctx, name)
			},
		},
		{
			name:    StepShaping,
			enabled: f.BandwidthShaping && qos.Bool("traffic_shaping") && s.shapeMbps > 0,
			run: func(ctx context.Context) (string, error) {
				if err := o.p.ApplyShaping(ctx, name, s.shapeMbps); err != nil {
					return "", err
				}
				return fmt.Sprintf("%.1f Mbit/s", s.shapeMbps), nil
			},
		},
		{
			name:    StepPacketAccounting,
			enabled: f.DeepPacketAnalysis,
			run: func(ctx context.Context) (string, error) {
				return "", o.p.EnablePacketAccounting(ctx)
			},
		},
		{
			name: StepChannel,
			enabled: f.ChannelAutoSwitch && s.iface.IsWireless &&
				p.Group(profile.GroupConnection).String("channel_selection") == "auto",
			run: func(ctx context.Context) (string, error) {
				return o.recommendChannel(ctx, name, s.info.ConnectionType)
			},
		},
		{
			name:    StepClearBuffers,
			enabled: level >= profile.Extreme && trigger == TriggerStart,
			run: func(ctx context.Context) (string, error) {
				return "", o.p.ClearBuffers(ctx)
			},
		},
	}
}

// rankDNS orders servers fastest first. Servers that did not answer keep
// their relative order at the end; if none answered the input is returned.
func (o *Orchestrator) rankDNS(ctx context.Context, servers []string) []string {
	results := o.d.BenchmarkDNS(ctx, servers)
	ranked := diag.Fastest(results)
	if len(ranked) == 0 {
		return servers
	}
	for _, r := range results {
		if !r.OK() {
			ranked = append(ranked, r.Server)
		}
	}
	return ranked
}

// tuneMTU searches for the largest unfragmented packet size and sets it. A
// result at the search floor means no probe got through and is not applied.
func (o *Orchestrator) tuneMTU(ctx context.Context, iface string) (string, error) {
	res := search.FindOptimalMTU(ctx, o.p, o.cfg.MTUTarget)
	if res.MTU <= search.MinMTU {
		return "", apperr.Apply(StepMTU, fmt.Errorf("mtu search inconclusive after %d probes", res.Probes))
	}
	if err := o.p.SetMTU(ctx, iface, res.MTU); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d after %d probes", res.MTU, res.Probes), nil
}

// recommendChannel scans and reports the least congested channel in the
// band of the current link. Nothing is switched: the access point owns the
// channel.
func (o *Orchestrator) recommendChannel(ctx context.Context, iface string, conn profile.ConnectionType) (string, error) {
	nets, err := o.p.ScanNetworks(ctx, iface)
	if err != nil {
		return "", err
	}
	best := search.BestChannel(nets)
	if conn == profile.WiFi5GHz {
		best = search.BestChannel5GHz(nets)
	}
	current, _ := o.p.CurrentChannel(ctx, iface)
	if current == best {
		return fmt.Sprintf("channel %d already optimal", best), nil
	}
	return fmt.Sprintf("recommended channel %d (current %d)", best, current), nil
}
