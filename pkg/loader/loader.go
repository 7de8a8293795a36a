package loader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/authzed/controller-idioms/handler"
	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/pool"

	"github.com/chazu/neuron/pkg/metrics"
	"github.com/chazu/neuron/pkg/module"
)

// ErrNotBound is returned by Flush before Bind was called
var ErrNotBound = errors.New("loader is not bound to a module manager")

// Config holds loader configuration
type Config struct {
	// MaxConcurrency is the maximum number of concurrent fetches
	MaxConcurrency int

	// MaxRetries is the number of retries for a failing fetch
	MaxRetries int

	// RetryBackoffBase is the base duration for exponential backoff
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the backoff
	RetryBackoffMax time.Duration
}

// DefaultConfig returns the default loader configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   10,
		MaxRetries:       3,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  5 * time.Minute,
	}
}

// backoff returns the delay before retry number retry (0-based)
func (c Config) backoff(retry int) time.Duration {
	d := time.Duration(float64(c.RetryBackoffBase) * math.Pow(2, float64(retry)))
	if d > c.RetryBackoffMax || d <= 0 {
		return c.RetryBackoffMax
	}
	return d
}

// Loader implements module.Loader. Requests are queued by MarkForLoading and
// served by Flush, which fetches manifests concurrently and then defines
// their modules on the calling goroutine.
type Loader struct {
	config    Config
	sources   *Sources
	cache     *Cache
	compiler  *Compiler
	factories *Factories
	hashes    *HashStore
	states    *States
	definer   Definer
	log       logr.Logger

	fetchPipeline  handler.Handler
	definePipeline handler.Handler

	mu      sync.Mutex
	pending map[string]*pendingRequest
	waiting map[string][]*module.Instance
}

type pendingRequest struct {
	req  Request
	defs []*module.Definition
}

// Options configures a Loader
type Options struct {
	Config    Config
	Sources   *Sources
	Factories *Factories
	Hashes    *HashStore
	Logger    logr.Logger
}

// NewLoader creates a loader. It must be bound to a manager before Flush.
func NewLoader(opts Options) (*Loader, error) {
	compiler, err := NewCompiler()
	if err != nil {
		return nil, err
	}

	l := &Loader{
		config:    opts.Config,
		sources:   opts.Sources,
		cache:     NewCache(),
		compiler:  compiler,
		factories: opts.Factories,
		hashes:    opts.Hashes,
		states:    NewStates(),
		log:       opts.Logger,
		pending:   make(map[string]*pendingRequest),
		waiting:   make(map[string][]*module.Instance),
	}

	defaults := DefaultConfig()
	if l.config.MaxConcurrency <= 0 {
		l.config.MaxConcurrency = defaults.MaxConcurrency
	}
	if l.config.MaxRetries < 0 {
		l.config.MaxRetries = 0
	}
	if l.config.RetryBackoffBase <= 0 {
		l.config.RetryBackoffBase = defaults.RetryBackoffBase
	}
	if l.config.RetryBackoffMax <= 0 {
		l.config.RetryBackoffMax = defaults.RetryBackoffMax
	}
	if l.sources == nil {
		l.sources = NewSources()
	}
	if l.factories == nil {
		l.factories = NewFactories()
	}
	if l.hashes == nil {
		l.hashes = NewHashStore(nil)
	}
	if l.log.GetSink() == nil {
		l.log = logr.Discard()
	}

	l.fetchPipeline = handler.Chain(
		l.lookupCache(),
		l.fetchManifest(),
		l.storeCache(),
	).Handler("fetch")

	return l, nil
}

// Bind sets where fetched modules are defined, normally the manager the
// loader serves
func (l *Loader) Bind(d Definer) {
	l.definer = d
	l.definePipeline = handler.Chain(
		l.compileManifest(),
		l.defineModules(),
		l.notifyWaiters(),
	).Handler("define")
}

// Factories returns the factory table manifests are resolved against
func (l *Loader) Factories() *Factories {
	return l.factories
}

// Hashes returns the hash store filled from manifests
func (l *Loader) Hashes() *HashStore {
	return l.hashes
}

// States returns the per-request load states
func (l *Loader) States() *States {
	return l.states
}

// requestFor returns what has to be fetched for inst: its package for a
// main entry, the module alone otherwise
func requestFor(inst *module.Instance) Request {
	req := Request{Name: inst.Name, Version: inst.Version}
	if !inst.Main {
		req.Path = inst.Path
	}
	return req
}

// MarkForLoading implements module.Loader. A package is requested once;
// modules loaded on their own are requested again after they settle.
func (l *Loader) MarkForLoading(inst *module.Instance) {
	if inst.Definition.Defined() {
		return
	}

	req := requestFor(inst)
	key := req.Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, queued := l.pending[key]; queued {
		p.defs = append(p.defs, inst.Definition)
		return
	}

	if !l.states.Track(key) {
		state, _ := l.states.GetState(key)
		if inst.Main || state == PackageStateFetching || state == PackageStateFetched {
			return
		}
		if err := l.states.SetState(key, PackageStatePending); err != nil {
			return
		}
	}

	l.log.V(1).Info("marked for loading", "request", key)
	l.pending[key] = &pendingRequest{req: req, defs: []*module.Definition{inst.Definition}}
}

// OnReady implements module.Loader
func (l *Loader) OnReady(inst *module.Instance, cb func()) {
	inst.Ready().Wait(cb)
	inst.Definition.Loading().Wait(func() {
		inst.Ready().Notify()
	})
	if inst.Definition.Defined() {
		return
	}

	key := requestFor(inst).Key()

	l.mu.Lock()
	_, queued := l.pending[key]
	state, err := l.states.GetState(key)
	settled := err == nil && !queued && (state == PackageStateDefined || state == PackageStateError)
	if !settled {
		l.waiting[key] = append(l.waiting[key], inst)
	}
	l.mu.Unlock()

	// The request already completed without defining the module
	if settled {
		inst.Ready().Notify()
	}
}

// release notifies the instances waiting on key. Instances whose definition
// is still missing proceed and fail with module.ErrModuleNotFound.
func (l *Loader) release(key string) {
	l.mu.Lock()
	waiters := l.waiting[key]
	delete(l.waiting, key)
	l.mu.Unlock()

	for _, inst := range waiters {
		inst.Ready().Notify()
	}
}

// Pending returns the keys of requests waiting for Flush, sorted
func (l *Loader) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.pending))
	for key := range l.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// takePending empties the pending set. Module requests whose definitions
// appeared in the meantime are dropped.
func (l *Loader) takePending() []Request {
	l.mu.Lock()
	defer l.mu.Unlock()

	var reqs []Request
	for key, p := range l.pending {
		if p.req.Path != "" && allDefined(p.defs) {
			l.states.Forget(key)
			continue
		}
		reqs = append(reqs, p.req)
	}
	l.pending = make(map[string]*pendingRequest)

	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Key() < reqs[j].Key() })
	return reqs
}

func allDefined(defs []*module.Definition) bool {
	for _, def := range defs {
		if !def.Defined() {
			return false
		}
	}
	return true
}

// Flush loads everything requested so far, including whatever the modules
// initialized along the way request, until nothing is pending. It returns
// the joined errors of the requests that failed.
func (l *Loader) Flush(ctx context.Context) error {
	if l.definer == nil {
		return ErrNotBound
	}

	var errs []error
	for {
		reqs := l.takePending()
		if len(reqs) == 0 {
			break
		}

		for _, load := range l.fetchAll(ctx, reqs) {
			if err := l.define(ctx, load); err != nil {
				errs = append(errs, err)
			}
		}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}

// Load requests the package key (or module id) and flushes
func (l *Loader) Load(ctx context.Context, m *module.Manager, id string) (*module.Instance, error) {
	inst, err := m.Instance(id, nil, false)
	if err != nil {
		return nil, err
	}
	l.MarkForLoading(inst)
	if err := l.Flush(ctx); err != nil {
		return inst, err
	}
	return inst, nil
}

// fetchAll fetches reqs on a bounded pool and returns the loads sorted by key
func (l *Loader) fetchAll(ctx context.Context, reqs []Request) []*packageLoad {
	p := pool.NewWithResults[*packageLoad]().WithMaxGoroutines(l.config.MaxConcurrency)
	for _, req := range reqs {
		p.Go(func() *packageLoad {
			return l.fetch(ctx, req)
		})
	}

	loads := p.Wait()
	sort.Slice(loads, func(i, j int) bool {
		return loads[i].Request.Key() < loads[j].Request.Key()
	})
	return loads
}

// fetch runs the fetch pipeline for req, retrying with exponential backoff
func (l *Loader) fetch(ctx context.Context, req Request) *packageLoad {
	key := req.Key()
	load := &packageLoad{Request: req}

	for retry := 0; ; retry++ {
		if err := l.states.SetState(key, PackageStateFetching); err != nil {
			load.Err = err
			return load
		}

		err := run(ctx, l.fetchPipeline, load, l.log)
		if err == nil {
			l.logTransition(key, l.states.SetFetched(key, load.Result.Source, load.Result.Digest))
			return load
		}
		l.logTransition(key, l.states.SetError(key, err))

		if errors.Is(err, ErrPackageNotFound) || retry >= l.config.MaxRetries {
			return load
		}

		delay := l.config.backoff(retry)
		l.log.Info("fetch failed, retrying", "request", key, "retry", retry+1, "after", delay, "error", err.Error())
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			metrics.RecordFetchRetry(fetchErr.Source)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return load
		}
		l.logTransition(key, l.states.SetState(key, PackageStatePending))
	}
}

// define runs the define pipeline for a fetched load
func (l *Loader) define(ctx context.Context, load *packageLoad) error {
	key := load.Request.Key()

	if load.Err != nil {
		l.release(key)
		return fmt.Errorf("failed to load %s: %w", key, load.Err)
	}

	if err := run(ctx, l.definePipeline, load, l.log); err != nil {
		l.logTransition(key, l.states.SetError(key, err))
		l.release(key)
		return fmt.Errorf("failed to load %s: %w", key, err)
	}
	return nil
}

// logTransition logs a state change the state machine refused
func (l *Loader) logTransition(key string, err error) {
	if err != nil {
		l.log.V(1).Info("state transition refused", "request", key, "error", err.Error())
	}
}
