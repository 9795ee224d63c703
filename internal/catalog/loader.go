// Package catalog bootstraps the list of selectable models.
//
// A Loader fetches the catalog once, shares a single in-flight fetch between
// concurrent callers and caches the first non-empty result. An empty or
// failed fetch is retried exactly once after a fixed backoff; if that also
// comes back empty the caller simply receives an empty catalog and may call
// Load again later.
package catalog

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/petrijr/flowstate/pkg/api"
)

// DefaultRetryBackoff is the delay before the single retry.
const DefaultRetryBackoff = 1500 * time.Millisecond

// fetchKey is the singleflight key shared by all Load calls.
const fetchKey = "catalog"

// DefaultModelName is preferred by DefaultModel when present.
const DefaultModelName = "gpt-4.1"

// Fetcher retrieves the model catalog from its source. An empty result is
// valid and not an error.
type Fetcher interface {
	Fetch(ctx context.Context) ([]api.Model, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]api.Model, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]api.Model, error) {
	return f(ctx)
}

// Loader is a memoizing catalog loader. It is safe for concurrent use.
type Loader struct {
	fetcher  Fetcher
	backoff  time.Duration
	observer api.Observer

	group singleflight.Group

	mu     sync.RWMutex
	models []api.Model
}

// Option configures a Loader.
type Option func(*Loader)

// WithRetryBackoff sets the delay before the retry. Negative values are
// treated as zero.
func WithRetryBackoff(d time.Duration) Option {
	return func(l *Loader) {
		if d < 0 {
			d = 0
		}
		l.backoff = d
	}
}

// WithObserver reports every fetch attempt to obs.
func WithObserver(obs api.Observer) Option {
	return func(l *Loader) {
		if obs != nil {
			l.observer = obs
		}
	}
}

// NewLoader creates a Loader around fetcher.
func NewLoader(fetcher Fetcher, opts ...Option) *Loader {
	l := &Loader{
		fetcher:  fetcher,
		backoff:  DefaultRetryBackoff,
		observer: api.NoopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the catalog. It never fails: on repeated empty or failed
// fetches, or when ctx ends first, it returns an empty slice. The fetch
// itself is not cancelled by ctx; it completes in the background and its
// result is cached for later callers.
func (l *Loader) Load(ctx context.Context) []api.Model {
	if models := l.Cached(); len(models) > 0 {
		return models
	}
	if l.fetcher == nil {
		return nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(fetchKey, func() (any, error) {
		return l.fetchWithRetry(fetchCtx), nil
	})

	select {
	case res := <-ch:
		models, _ := res.Val.([]api.Model)
		return slices.Clone(models)
	case <-ctx.Done():
		return nil
	}
}

// Refresh discards the cached catalog and loads it again. It never joins a
// fetch that was already in flight.
func (l *Loader) Refresh(ctx context.Context) []api.Model {
	l.Reset()
	l.group.Forget(fetchKey)
	return l.Load(ctx)
}

// Reset discards the cached catalog.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.models = nil
}

// Cached returns a copy of the cached catalog without fetching.
func (l *Loader) Cached() []api.Model {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.models)
}

func (l *Loader) fetchWithRetry(ctx context.Context) []api.Model {
	// A caller may have raced past the cache check while a previous fetch
	// was completing.
	if models := l.Cached(); len(models) > 0 {
		return models
	}

	models := l.attempt(ctx, 1)
	if len(models) == 0 {
		if l.backoff > 0 {
			timer := time.NewTimer(l.backoff)
			<-timer.C
		}
		models = l.attempt(ctx, 2)
	}

	if len(models) > 0 {
		l.mu.Lock()
		l.models = models
		l.mu.Unlock()
	}
	return models
}

func (l *Loader) attempt(ctx context.Context, n int) []api.Model {
	models, err := l.fetcher.Fetch(ctx)
	if err != nil {
		l.observer.OnCatalogFetch(ctx, n, 0, err)
		return nil
	}
	models = validModels(models)
	l.observer.OnCatalogFetch(ctx, n, len(models), nil)
	return models
}

func validModels(models []api.Model) []api.Model {
	out := make([]api.Model, 0, len(models))
	for _, m := range models {
		if m.ModelName == "" || !m.Provider.Valid() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// DefaultModel picks the model used when a node has no override:
// DefaultModelName if present, otherwise the first entry, otherwise nil.
func DefaultModel(models []api.Model) *api.Model {
	for _, m := range models {
		if m.ModelName == DefaultModelName {
			return &m
		}
	}
	if len(models) > 0 {
		m := models[0]
		return &m
	}
	return nil
}
