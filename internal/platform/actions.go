package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesaa/signalboost/internal/netinfo"
)

// action is one OS command within a tuning step.
type action struct {
	name string
	run  func(ctx context.Context) error
}

func command(r Runner, name string, args ...string) action {
	return action{
		name: name + " " + strings.Join(args, " "),
		run: func(ctx context.Context) error {
			out, err := r.Run(ctx, name, args...)
			if err != nil {
				if msg := strings.TrimSpace(out); msg != "" {
					return fmt.Errorf("%w: %s", err, firstLine(msg))
				}
			}
			return err
		},
	}
}

// runActions executes every action. The step counts as applied when at least
// one action succeeded; individual failures are logged.
func runActions(ctx context.Context, log *zap.Logger, actions []action) error {
	var (
		errs []error
		ok   int
	)
	for _, a := range actions {
		if err := a.run(ctx); err != nil {
			log.Warn("tuning action failed", zap.String("action", a.name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		ok++
	}
	if ok == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// dfProbe runs a don't-fragment probe, retrying once on loss. Output
// containing one of fragMarkers is a definitive "too large" with no retry.
func dfProbe(ctx context.Context, run func(context.Context) (string, error), fragMarkers ...string) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		out, err := run(ctx)
		lower := strings.ToLower(out)
		for _, m := range fragMarkers {
			if strings.Contains(lower, strings.ToLower(m)) {
				return false, nil
			}
		}
		if err == nil {
			return true, nil
		}
		if isNotFound(err) {
			return false, err
		}
		if attempt == 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	return false, nil
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "executable file not found") || strings.Contains(msg, "command not found")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func ignoreMissing(err error, out string, markers ...string) error {
	if err == nil {
		return nil
	}
	for _, m := range markers {
		if strings.Contains(out, m) {
			return nil
		}
	}
	return err
}

func sortInterfaces(ifaces []netinfo.Interface) {
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })
}
