package diag

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// DNSResult is the benchmark outcome for one resolver.
type DNSResult struct {
	Server   string        `json:"server"`
	RTT      time.Duration `json:"rtt"`
	Answered int           `json:"answered"`
	Queries  int           `json:"queries"`
	Err      string        `json:"error,omitempty"`
}

// OK reports whether the resolver answered at least once.
func (r DNSResult) OK() bool { return r.Answered > 0 }

// BenchmarkDNS queries every server DNSQueries times for an A record of
// DNSProbeDomain and returns the results fastest first. Servers that never
// answered sort last in their input order.
func (e *Engine) BenchmarkDNS(ctx context.Context, servers []string) []DNSResult {
	results := make([]DNSResult, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range servers {
		i, s := i, s
		g.Go(func() error {
			results[i] = e.benchmarkOne(gctx, s)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.OK() != b.OK() {
			return a.OK()
		}
		return a.OK() && a.RTT < b.RTT
	})
	return results
}

func (e *Engine) benchmarkOne(ctx context.Context, server string) DNSResult {
	res := DNSResult{Server: server, Queries: e.cfg.DNSQueries}
	addr := server
	if _, _, err := net.SplitHostPort(server); err != nil {
		addr = net.JoinHostPort(server, "53")
	}

	var (
		total   time.Duration
		lastErr error
	)
	for i := 0; i < e.cfg.DNSQueries; i++ {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(e.cfg.DNSProbeDomain), dns.TypeA)
		m.RecursionDesired = true

		qctx, cancel := context.WithTimeout(ctx, e.cfg.DNSTimeout)
		r, rtt, err := e.dns.ExchangeContext(qctx, m, addr)
		cancel()
		switch {
		case err != nil:
			lastErr = err
		case r == nil || r.Rcode != dns.RcodeSuccess:
			lastErr = fmt.Errorf("rcode %s", dns.RcodeToString[rcodeOf(r)])
		default:
			total += rtt
			res.Answered++
		}
		if ctx.Err() != nil {
			break
		}
	}
	if res.Answered > 0 {
		res.RTT = total / time.Duration(res.Answered)
	} else if lastErr != nil {
		res.Err = lastErr.Error()
		e.log.Debug("resolver did not answer", zap.String("server", server), zap.Error(lastErr))
	}
	return res
}

func rcodeOf(r *dns.Msg) int {
	if r == nil {
		return dns.RcodeServerFailure
	}
	return r.Rcode
}

// Fastest returns the servers that answered, fastest first.
func Fastest(results []DNSResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Server)
		}
	}
	return out
}
