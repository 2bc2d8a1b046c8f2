package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type fakeResult struct {
	out string
	err error
}

// fakeRunner answers commands by prefix and serves files from memory.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string][]fakeResult
	files   map[string]string
	written map[string]string
	calls   []string
	local   bool
	block   bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: map[string][]fakeResult{},
		files:   map[string]string{},
		written: map[string]string{},
	}
}

// on queues a response for any command line starting with prefix. The last
// queued response repeats.
func (f *fakeRunner) on(prefix, out string, err error) *fakeRunner {
	f.results[prefix] = append(f.results[prefix], fakeResult{out: out, err: err})
	return f
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.mu.Lock()
	f.calls = append(f.calls, line)
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	best := ""
	for prefix := range f.results {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", fmt.Errorf("%s: executable file not found in $PATH", name)
	}
	q := f.results[best]
	r := q[0]
	if len(q) > 1 {
		f.results[best] = q[1:]
	}
	return r.out, r.err
}

func (f *fakeRunner) ReadFile(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("no such file: " + path)
	}
	return []byte(data), nil
}

func (f *fakeRunner) WriteFile(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[path] = string(data)
	f.files[path] = string(data)
	return nil
}

func (f *fakeRunner) Local() bool { return f.local }

func (f *fakeRunner) callsWith(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
