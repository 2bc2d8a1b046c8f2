// SignalBoost: network quality diagnostics and adaptive link optimization.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vesaa/signalboost/internal/config"
	"github.com/vesaa/signalboost/internal/diag"
	"github.com/vesaa/signalboost/internal/engine"
	"github.com/vesaa/signalboost/internal/logging"
	"github.com/vesaa/signalboost/internal/monitoring"
	"github.com/vesaa/signalboost/internal/platform"
	"github.com/vesaa/signalboost/internal/search"
	"github.com/vesaa/signalboost/internal/server"
	"github.com/vesaa/signalboost/internal/store"
)

const version = "v0.1.0"

// startSettleTimeout bounds how long shutdown waits for an API-triggered
// Start to finish before deciding whether to restore.
const startSettleTimeout = 2 * time.Minute

const banner = `
  ┌─┐┬┌─┐┌┐┌┌─┐┬  ┌┐ ┌─┐┌─┐┌─┐┌┬┐
  └─┐││ ┬│││├─┤│  ├┴┐│ ││ │└─┐ │
  └─┘┴└─┘┘└┘┴ ┴┴─┘└─┘└─┘└─┘└─┘ ┴
`

func printBanner(mode string) {
	fmt.Print(banner, "\n")
	fmt.Printf("  ► SignalBoost %s  |  Mode: %s\n\n", version, mode)
}

// app bundles what every subcommand needs.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	disp   *platform.Dispatcher
	diag   *diag.Engine
	store  *store.Store
	closer func() error
}

func (r *app) Close() {
	_ = r.log.Sync()
	if r.closer != nil {
		_ = r.closer()
	}
}

var (
	flagConfig   string
	flagLogLevel string
	flagSSHHost  string
	flagJSON     bool
)

func setup(ctx context.Context) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagSSHHost != "" {
		cfg.Platform.SSH.Host = flagSSHHost
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, log: log}
	opts := []platform.Option{
		platform.WithLogger(log),
		platform.WithTimeout(cfg.Platform.Timeout),
		platform.WithSpeedTestURL(cfg.Platform.SpeedTestURL),
	}
	if ssh := cfg.Platform.SSH; ssh.Host != "" {
		runner, err := platform.DialSSH(platform.SSHConfig{
			Host:     ssh.Host,
			User:     ssh.User,
			Password: ssh.Password,
			KeyPath:  ssh.KeyPath,
			Timeout:  ssh.Timeout,
		})
		if err != nil {
			return nil, err
		}
		rt.closer = runner.Close
		opts = append(opts, platform.WithRunner(runner))
		log.Info("remote target", zap.String("host", ssh.Host))
	}
	rt.disp = platform.New(ctx, opts...)
	rt.diag = diag.New(rt.disp, cfg.Diag, log)
	return rt, nil
}

// withRuntime wraps a RunE body with setup, teardown and SIGINT handling.
func withRuntime(fn func(ctx context.Context, rt *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		rt, err := setup(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(ctx, rt, cmd, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	root := &cobra.Command{
		Use:   "signalboost",
		Short: "SignalBoost — network quality diagnostics and adaptive optimization",
		Long: `SignalBoost measures the active network connection (latency, jitter, loss,
throughput, signal, congestion, interference) and applies platform-specific
tuning on Linux, Windows and macOS, restoring every changed setting on stop.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ./config.yaml or ~/.signalboost/config.yaml)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagSSHHost, "ssh", "", "diagnose and tune a remote host over SSH")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "print machine-readable JSON")

	// ── diagnose ──────────────────────────────────────────────────────────────
	diagnoseCmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run one full diagnostic pass on the active interface",
		RunE: withRuntime(func(ctx context.Context, rt *app, cmd *cobra.Command, _ []string) error {
			iface, err := resolveIface(ctx, rt, cmd)
			if err != nil {
				return err
			}
			var opts []diag.RunOption
			if skip, _ := cmd.Flags().GetBool("no-bandwidth"); skip {
				opts = append(opts, diag.WithoutBandwidth())
			}
			if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
				opts = append(opts, diag.WithBandwidthDuration(d))
			}
			snap := rt.diag.Run(ctx, iface, opts...)
			if flagJSON {
				return printJSON(snap)
			}
			printSnapshot(rt, iface, snap)
			return nil
		}),
	}
	diagnoseCmd.Flags().String("iface", "", "interface to measure (default: the one carrying the default route)")
	diagnoseCmd.Flags().Bool("no-bandwidth", false, "skip the throughput test")
	diagnoseCmd.Flags().Duration("duration", 0, "throughput test length")

	// ── interfaces ────────────────────────────────────────────────────────────
	interfacesCmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List network interfaces",
		RunE: withRuntime(func(ctx context.Context, rt *app, _ *cobra.Command, _ []string) error {
			ifaces, err := rt.disp.ListInterfaces(ctx)
			if err != nil {
				return err
			}
			gw, _ := rt.disp.DefaultGateway(ctx)
			if flagJSON {
				return printJSON(map[string]any{"interfaces": ifaces, "gateway": gw})
			}
			for _, it := range ifaces {
				kind := "wired"
				if it.IsWireless {
					kind = "wireless"
				}
				mark := " "
				if it.Name == gw.Interface {
					mark = "*"
				}
				fmt.Printf(" %s %-12s %-16s %-18s %-8s mtu=%d speed=%dMbps up=%t\n",
					mark, it.Name, it.IPAddress, it.MACAddress, kind, it.MTU, it.LinkSpeedMbps, it.Up)
			}
			if gw.IP != "" {
				fmt.Printf("\n  default gateway %s via %s\n", gw.IP, gw.Interface)
			}
			return nil
		}),
	}

	// ── mtu ───────────────────────────────────────────────────────────────────
	mtuCmd := &cobra.Command{
		Use:   "mtu",
		Short: "Discover the largest unfragmented packet size to a target",
		RunE: withRuntime(func(ctx context.Context, rt *app, cmd *cobra.Command, _ []string) error {
			target, _ := cmd.Flags().GetString("target")
			if target == "" {
				target = rt.cfg.Engine.MTUTarget
			}
			res := search.FindOptimalMTU(ctx, rt.disp, target)
			if flagJSON {
				return printJSON(res)
			}
			fmt.Printf("  ✓ Optimal MTU to %s: %d (%d probes)\n", target, res.MTU, res.Probes)
			if res.MTU <= search.MinMTU {
				fmt.Println("  ! No probe got through; the result is the search floor")
			}
			return nil
		}),
	}
	mtuCmd.Flags().String("target", "", "probe target (default engine.mtu_target)")

	// ── channel ───────────────────────────────────────────────────────────────
	channelCmd := &cobra.Command{
		Use:   "channel",
		Short: "Scan nearby networks and recommend the least congested channel",
		RunE: withRuntime(func(ctx context.Context, rt *app, cmd *cobra.Command, _ []string) error {
			iface, err := resolveIface(ctx, rt, cmd)
			if err != nil {
				return err
			}
			if !iface.IsWireless {
				return fmt.Errorf("%s is not a wireless interface", iface.Name)
			}
			nets, err := rt.disp.ScanNetworks(ctx, iface.Name)
			if err != nil {
				return err
			}
			current, _ := rt.disp.CurrentChannel(ctx, iface.Name)
			result := map[string]any{
				"current":  current,
				"best_24":  search.BestChannel(nets),
				"best_5":   search.BestChannel5GHz(nets),
				"scores":   search.ChannelScores(nets),
				"networks": nets,
			}
			if flagJSON {
				return printJSON(result)
			}
			fmt.Printf("  ✓ %d networks visible on %s (current channel %d)\n", len(nets), iface.Name, current)
			fmt.Printf("  ✓ Best 2.4 GHz channel: %d\n", result["best_24"])
			fmt.Printf("  ✓ Best 5 GHz channel:   %d\n", result["best_5"])
			return nil
		}),
	}
	channelCmd.Flags().String("iface", "", "wireless interface (default: the active one)")

	// ── dns-bench ─────────────────────────────────────────────────────────────
	dnsCmd := &cobra.Command{
		Use:   "dns-bench [server...]",
		Short: "Benchmark DNS resolvers (default: the resolvers of every level)",
		RunE: withRuntime(func(ctx context.Context, rt *app, _ *cobra.Command, args []string) error {
			servers := args
			if len(servers) == 0 {
				servers = profileResolvers()
			}
			results := rt.diag.BenchmarkDNS(ctx, servers)
			if flagJSON {
				return printJSON(results)
			}
			for i, r := range results {
				if r.OK() {
					fmt.Printf("  %d. %-18s %8s  (%d/%d answered)\n", i+1, r.Server, r.RTT.Round(100*time.Microsecond), r.Answered, r.Queries)
				} else {
					fmt.Printf("  -  %-18s  no answer: %s\n", r.Server, r.Err)
				}
			}
			return nil
		}),
	}

	// ── optimize ──────────────────────────────────────────────────────────────
	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Apply an optimization profile and keep it tuned until interrupted",
		RunE: withRuntime(func(ctx context.Context, rt *app, cmd *cobra.Command, _ []string) error {
			printBanner("OPTIMIZE")
			opts, err := optionsFromFlags(rt, cmd)
			if err != nil {
				return err
			}
			orch, closeStore, err := buildEngine(rt, nil)
			if err != nil {
				return err
			}
			defer closeStore()

			if !rt.disp.IsElevated(ctx) {
				fmt.Println("  ! Not running with administrative rights; most tuning steps will fail")
			}
			report, err := orch.Start(ctx, opts)
			if err != nil {
				return err
			}
			printApply(report)
			fmt.Println("\n  → Monitoring; press Ctrl+C to stop and restore settings")

			<-ctx.Done()
			fmt.Println("\n  → Restoring settings…")
			restore, err := orch.Stop(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("  ✓ Restored %d settings", len(restore.Restored))
			if len(restore.Failed) > 0 {
				fmt.Printf(", %d failed: %s", len(restore.Failed), strings.Join(restore.Failed, ", "))
			}
			fmt.Println()
			return nil
		}),
	}
	optimizeCmd.Flags().Float64("target-speed", 50, "target download speed in Mbit/s")
	optimizeCmd.Flags().Int("target-signal", 0, "target signal strength in percent (default engine.target_signal)")
	optimizeCmd.Flags().String("level", "standard", "light, standard, aggressive or extreme")
	optimizeCmd.Flags().String("connection", "", "wifi_2ghz, wifi_5ghz, ethernet or mobile (default: detect)")
	optimizeCmd.Flags().String("iface", "", "interface to tune (default: the active one)")

	// ── serve ─────────────────────────────────────────────────────────────────
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind the HTTP API and dashboard",
		RunE: withRuntime(func(ctx context.Context, rt *app, _ *cobra.Command, _ []string) error {
			printBanner("SERVER")
			collector := monitoring.NewCollector()
			orch, closeStore, err := buildEngine(rt, collector)
			if err != nil {
				return err
			}
			defer closeStore()

			srvOpts := []server.Option{
				server.WithLogger(rt.log),
				server.WithGatherer(collector.Registry()),
				server.WithVersion(version),
			}
			if rt.store != nil {
				srvOpts = append(srvOpts, server.WithStore(rt.store))
			}
			gin.SetMode(gin.ReleaseMode)
			api := server.New(orch, server.Auth{
				User:      rt.cfg.Server.AdminUser,
				Pass:      rt.cfg.Server.AdminPass,
				JWTSecret: rt.cfg.Server.JWTSecret,
				TokenTTL:  rt.cfg.Server.TokenTTL,
			}, srvOpts...)

			addr := rt.cfg.Server.Addr()
			fmt.Printf("  ✓ Dashboard + API → http://%s\n", addr)
			fmt.Printf("  ✓ Prometheus      → http://%s/metrics\n", addr)
			fmt.Printf("  ✓ Platform        : %s\n\n", rt.disp.Platform())

			srv := &http.Server{Addr: addr, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				fmt.Println("\n  → Shutting down gracefully…")
			}
			settleCtx, cancelSettle := context.WithTimeout(context.Background(), startSettleTimeout)
			state := orch.Settle(settleCtx)
			cancelSettle()
			if state == engine.Active {
				if _, err := orch.Stop(context.Background()); err != nil {
					rt.log.Warn("stopping optimization", zap.Error(err))
				}
			} else if state == engine.Starting {
				rt.log.Warn("start still running at shutdown; settings not restored")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}

	// ── version ───────────────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the SignalBoost version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SignalBoost %s (%s)\n", version, platform.Resolve(runtime.GOOS))
		},
	}

	root.AddCommand(diagnoseCmd, interfacesCmd, mtuCmd, channelCmd, dnsCmd, optimizeCmd, serveCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
