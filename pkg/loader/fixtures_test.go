package loader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/neuron/pkg/module"
)

const manifestA = `
name:    "a"
version: "1.0.0"
modules: {
	"": {
		main:    true
		factory: "a"
		deps: ["b"]
		versions: b: "b@2.0.0"
	}
	"lib/util.js": {
		factory: "a/util"
		map: {}
	}
}
hashes: "a.js": "1234abcd"
`

const manifestB = `
name:    "b"
version: "2.0.0"
modules: "": {
	main:    true
	factory: "b"
}
`

// testFactories registers factories for manifestA and manifestB
func testFactories() *Factories {
	f := NewFactories()
	f.Register("a", func(require *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
		b, err := require.Require("b")
		if err != nil {
			return err
		}
		exports["name"] = "a"
		exports["b"] = b
		return nil
	})
	f.Register("a/util", func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
		exports["util"] = true
		return nil
	})
	f.Register("b", func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
		exports["name"] = "b"
		return nil
	})
	return f
}

// countingFetcher serves fixed manifests, failing the first failures calls
// of each request, and records how many fetches ran at once
type countingFetcher struct {
	packages map[string]string
	failures int
	delay    time.Duration

	mu       sync.Mutex
	calls    map[string]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newCountingFetcher(packages map[string]string) *countingFetcher {
	return &countingFetcher{packages: packages, calls: make(map[string]int)}
}

func (f *countingFetcher) Type() string {
	return "counting"
}

func (f *countingFetcher) Fetch(ctx context.Context, req Request) (*FetchResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[req.Key()]++
	call := f.calls[req.Key()]
	f.mu.Unlock()

	if call <= f.failures {
		return nil, fmt.Errorf("temporary failure %d", call)
	}
	return NewInlineFetcher(f.packages).Fetch(ctx, req)
}

func (f *countingFetcher) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// fastConfig retries quickly
func fastConfig() Config {
	return Config{
		MaxConcurrency:   4,
		MaxRetries:       3,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  5 * time.Millisecond,
	}
}

// recordingDefiner records Define calls
type recordingDefiner struct {
	ids     []string
	options map[string]module.DefineOptions
	fail    map[string]error
}

func (d *recordingDefiner) Define(id string, _ module.Factory, opts module.DefineOptions) error {
	if err := d.fail[id]; err != nil {
		return err
	}
	if d.options == nil {
		d.options = make(map[string]module.DefineOptions)
	}
	d.ids = append(d.ids, id)
	d.options[id] = opts
	return nil
}
