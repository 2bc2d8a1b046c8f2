package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vesaa/signalboost/internal/engine"
	"github.com/vesaa/signalboost/internal/monitoring"
	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
	"github.com/vesaa/signalboost/internal/store"
)

// resolveIface honours --iface, falling back to the active interface.
func resolveIface(ctx context.Context, rt *app, cmd *cobra.Command) (netinfo.Interface, error) {
	name, _ := cmd.Flags().GetString("iface")
	if name == "" {
		return rt.disp.ActiveInterface(ctx)
	}
	ifaces, err := rt.disp.ListInterfaces(ctx)
	if err != nil {
		return netinfo.Interface{}, err
	}
	for _, it := range ifaces {
		if it.Name == name {
			return it, nil
		}
	}
	return netinfo.Interface{}, fmt.Errorf("interface %q not found", name)
}

// profileResolvers returns the distinct nameservers of every level.
func profileResolvers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range profile.Levels {
		for _, s := range profile.Resolve(l, profile.Unknown, nil).Group(profile.GroupDNS).Strings("nameservers") {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func optionsFromFlags(rt *app, cmd *cobra.Command) (engine.Options, error) {
	f := cmd.Flags()
	speed, _ := f.GetFloat64("target-speed")
	signal, _ := f.GetInt("target-signal")
	levelName, _ := f.GetString("level")
	connName, _ := f.GetString("connection")
	iface, _ := f.GetString("iface")

	level, err := profile.ParseLevel(levelName)
	if err != nil {
		return engine.Options{}, err
	}
	conn, err := profile.ParseConnectionType(connName)
	if err != nil {
		return engine.Options{}, err
	}
	doc, err := profile.LoadDocument(rt.cfg.OverridesPath)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		TargetSpeed:    speed,
		TargetSignal:   signal,
		Level:          level,
		ConnectionType: conn,
		Interface:      iface,
		Overrides:      doc.Overrides,
		Features:       doc.Features,
	}, nil
}

// buildEngine opens the history store (when enabled) and assembles the
// orchestrator with its recorders.
func buildEngine(rt *app, collector *monitoring.Collector) (*engine.Orchestrator, func(), error) {
	opts := []engine.Option{engine.WithLogger(rt.log)}
	if collector != nil {
		opts = append(opts, engine.WithRecorder(collector))
	}
	closeStore := func() {}
	if rt.cfg.Store.Enabled {
		st, err := store.Open(rt.cfg.Store.Path, store.WithLogger(rt.log), store.WithRetention(rt.cfg.Store.Retention))
		if err != nil {
			return nil, nil, err
		}
		rt.store = st
		opts = append(opts, engine.WithRecorder(st))
		closeStore = func() {
			if err := st.Close(); err != nil {
				rt.log.Warn("closing store", zap.Error(err))
			}
		}
	}
	return engine.New(rt.disp, rt.diag, rt.cfg.Engine, opts...), closeStore, nil
}

func printSnapshot(rt *app, iface netinfo.Interface, s netinfo.Snapshot) {
	fmt.Printf("  Interface     %s (%s)\n", iface.Name, rt.disp.Platform())
	fmt.Printf("  Latency       %.1f ms (min %.1f / max %.1f)\n", s.LatencyAvg, s.LatencyMin, s.LatencyMax)
	fmt.Printf("  Jitter        %.1f ms\n", s.Jitter)
	fmt.Printf("  Packet loss   %.1f %%\n", s.PacketLoss)
	fmt.Printf("  Throughput    %.1f down / %.1f up Mbit/s\n", s.DownloadMbps, s.UploadMbps)
	if s.Wireless() {
		fmt.Printf("  Signal        %d %% (%s)\n", s.SignalStrength, netinfo.SignalText(s.SignalStrength))
	} else {
		fmt.Printf("  Signal        %s\n", netinfo.SignalText(s.SignalStrength))
	}
	fmt.Printf("  Congestion    %.0f / 100\n", s.CongestionScore)
	fmt.Printf("  Interference  %.0f / 100\n", s.InterferenceScore)
	fmt.Printf("  Quality       %d (%s)\n", s.QualityScore, s.QualityRating)
	for _, issue := range s.Issues {
		fmt.Printf("    ! %s\n", issue)
	}
}

func printApply(r engine.ApplyReport) {
	status := "✓"
	if !r.Success {
		status = "✗"
	}
	fmt.Printf("  %s Session %s at level %s\n", status, r.SessionID, r.Level)
	fmt.Printf("    applied: %s\n", joinOrDash(r.Applied))
	fmt.Printf("    failed:  %s\n", joinOrDash(r.Failed))
	fmt.Printf("    skipped: %s\n", joinOrDash(r.Skipped))
	keys := make([]string, 0, len(r.Messages))
	for k := range r.Messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("    %-18s %s\n", k+":", r.Messages[k])
	}
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}
