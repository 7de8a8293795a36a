package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/authzed/controller-idioms/handler"
	"github.com/authzed/controller-idioms/queue"
	"github.com/authzed/controller-idioms/typedctx"
	"github.com/go-logr/logr"

	"github.com/chazu/neuron/pkg/metrics"
)

// Handler IDs for the load pipelines
const (
	LookupCacheID     handler.Key = "lookup-cache"
	FetchManifestID   handler.Key = "fetch-manifest"
	StoreCacheID      handler.Key = "store-cache"
	CompileManifestID handler.Key = "compile-manifest"
	DefineModulesID   handler.Key = "define-modules"
	NotifyWaitersID   handler.Key = "notify-waiters"
)

var (
	// CtxQueue carries the queue operations of one pipeline run
	CtxQueue = queue.NewQueueOperationsCtx()

	// CtxLoad carries the package being loaded
	CtxLoad = typedctx.NewKey[*packageLoad]()
)

// packageLoad accumulates the outcome of loading one request
type packageLoad struct {
	Request  Request
	Result   *FetchResult
	Manifest *Manifest
	Defined  []string
	Err      error
}

// fail records err on the load and requeues the pipeline run
func fail(ctx context.Context, err error) {
	CtxLoad.MustValue(ctx).Err = err
	CtxQueue.RequeueErr(ctx, err)
}

// run executes a pipeline for load and returns the error it recorded
func run(ctx context.Context, pipeline handler.Handler, load *packageLoad, logger logr.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ops := queue.NewOperations(
		func() {},
		func(time.Duration) {},
		cancel,
	)

	ctx = CtxQueue.WithValue(ctx, ops)
	ctx = CtxLoad.WithValue(ctx, load)
	ctx = logr.NewContext(ctx, logger.WithValues("request", load.Request.Key()))

	load.Err = nil
	pipeline.Handle(ctx)
	return load.Err
}

// LookupCacheHandler finishes the run early when the manifest is cached
type LookupCacheHandler struct {
	cache *Cache
	next  handler.Handler
}

func (h *LookupCacheHandler) Handle(ctx context.Context) {
	load := CtxLoad.MustValue(ctx)

	if result, ok := h.cache.Get(load.Request.Key()); ok {
		logr.FromContextOrDiscard(ctx).V(1).Info("manifest cached", "digest", result.Digest)
		load.Result = result
		CtxQueue.Done(ctx)
		return
	}
	h.next.Handle(ctx)
}

// FetchManifestHandler asks the sources for the manifest
type FetchManifestHandler struct {
	sources *Sources
	next    handler.Handler
}

func (h *FetchManifestHandler) Handle(ctx context.Context) {
	load := CtxLoad.MustValue(ctx)

	result, err := h.sources.Fetch(ctx, load.Request)
	if err != nil {
		fail(ctx, err)
		return
	}

	load.Result = result
	h.next.Handle(ctx)
}

// StoreCacheHandler remembers a fetched manifest
type StoreCacheHandler struct {
	cache *Cache
}

func (h *StoreCacheHandler) Handle(ctx context.Context) {
	load := CtxLoad.MustValue(ctx)
	h.cache.Set(load.Request.Key(), load.Result)
	CtxQueue.Done(ctx)
}

// CompileManifestHandler compiles the fetched manifest and checks that it
// describes the requested package
type CompileManifestHandler struct {
	compiler *Compiler
	next     handler.Handler
}

func (h *CompileManifestHandler) Handle(ctx context.Context) {
	load := CtxLoad.MustValue(ctx)
	req := load.Request

	manifest, err := h.compiler.Compile(load.Result.Content, load.Result.Source)
	if err != nil {
		metrics.RecordManifestError()
		fail(ctx, err)
		return
	}

	if manifest.Name != req.Name || manifest.Version != req.Version {
		metrics.RecordManifestError()
		fail(ctx, fmt.Errorf("%w: %s serves %s, requested %s@%s",
			ErrInvalidManifest, load.Result.Source, manifest.Key(), req.Name, req.Version))
		return
	}

	load.Manifest = manifest
	h.next.Handle(ctx)
}

// DefineModulesHandler defines the manifest's modules and records its hashes
type DefineModulesHandler struct {
	definer   Definer
	factories *Factories
	hashes    *HashStore
	states    *States
	next      handler.Handler
}

func (h *DefineModulesHandler) Handle(ctx context.Context) {
	load := CtxLoad.MustValue(ctx)
	manifest := load.Manifest

	h.hashes.Add(manifest.Key(), manifest.Hashes)

	defined, err := manifest.Define(h.definer, h.factories)
	load.Defined = defined
	if err != nil {
		metrics.RecordManifestError()
		fail(ctx, err)
		return
	}

	if err := h.states.SetDefined(load.Request.Key(), defined); err != nil {
		fail(ctx, err)
		return
	}
	metrics.IncrementPackagesDefined()

	logr.FromContextOrDiscard(ctx).Info("package defined", "modules", len(defined))
	h.next.Handle(ctx)
}

// NotifyWaitersHandler releases instances still waiting on the request
// after their definitions failed to appear
type NotifyWaitersHandler struct {
	loader *Loader
}

func (h *NotifyWaitersHandler) Handle(ctx context.Context) {
	h.loader.release(CtxLoad.MustValue(ctx).Request.Key())
	CtxQueue.Done(ctx)
}

func (l *Loader) lookupCache() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&LookupCacheHandler{cache: l.cache, next: handler.Handlers(next).MustOne()},
			LookupCacheID,
		)
	}
}

func (l *Loader) fetchManifest() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&FetchManifestHandler{sources: l.sources, next: handler.Handlers(next).MustOne()},
			FetchManifestID,
		)
	}
}

func (l *Loader) storeCache() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(&StoreCacheHandler{cache: l.cache}, StoreCacheID)
	}
}

func (l *Loader) compileManifest() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&CompileManifestHandler{compiler: l.compiler, next: handler.Handlers(next).MustOne()},
			CompileManifestID,
		)
	}
}

func (l *Loader) defineModules() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&DefineModulesHandler{
				definer:   l.definer,
				factories: l.factories,
				hashes:    l.hashes,
				states:    l.states,
				next:      handler.Handlers(next).MustOne(),
			},
			DefineModulesID,
		)
	}
}

func (l *Loader) notifyWaiters() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(&NotifyWaitersHandler{loader: l}, NotifyWaitersID)
	}
}
