package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vesaa/signalboost/internal/netinfo"
)

// DefaultSpeedTestURL serves sized downloads at /__down and accepts uploads
// at /__up.
const DefaultSpeedTestURL = "https://speed.cloudflare.com"

// httpProbe measures throughput by streaming a download and an upload, each
// for half of the requested duration.
type httpProbe struct {
	client    *http.Client
	baseURL   string
	downBytes int64
	upBytes   int64
}

func newHTTPProbe(baseURL string) *httpProbe {
	if baseURL == "" {
		baseURL = DefaultSpeedTestURL
	}
	return &httpProbe{
		client:    &http.Client{},
		baseURL:   baseURL,
		downBytes: 100 << 20,
		upBytes:   25 << 20,
	}
}

func (p *httpProbe) measure(ctx context.Context, d time.Duration) (netinfo.Bandwidth, error) {
	half := d / 2
	down, derr := p.download(ctx, half)
	up, uerr := p.upload(ctx, half)
	if derr != nil && uerr != nil {
		return netinfo.Bandwidth{}, errors.Join(derr, uerr)
	}
	return netinfo.Bandwidth{DownloadMbps: down, UploadMbps: up}, nil
}

func (p *httpProbe) download(ctx context.Context, d time.Duration) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	url := fmt.Sprintf("%s/__down?bytes=%d", p.baseURL, p.downBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("speed test download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("speed test download: server returned %d", resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil && ctx.Err() == nil {
		return 0, fmt.Errorf("speed test download: %w", err)
	}
	return mbps(n, time.Since(start)), nil
}

func (p *httpProbe) upload(ctx context.Context, d time.Duration) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	body := &countingReader{r: io.LimitReader(zeroReader{}, p.upBytes)}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/__up", body)
	if err != nil {
		return 0, err
	}
	req.ContentLength = p.upBytes
	start := time.Now()
	resp, err := p.client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil && ctx.Err() == nil {
		return 0, fmt.Errorf("speed test upload: %w", err)
	}
	return mbps(body.n.Load(), time.Since(start)), nil
}

func mbps(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) * 8 / elapsed.Seconds() / 1e6
}

type zeroReader struct{}

func (zeroReader) Read(b []byte) (int, error) {
	clear(b)
	return len(b), nil
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n.Add(int64(n))
	return n, err
}
