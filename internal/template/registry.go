package template

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/ristretto"

	"mediaflow/internal/logging"
	"mediaflow/internal/workflow"
)

const graphCacheSize = 256

// KindChecker reports whether an executor is registered for kind.
type KindChecker func(kind string) bool

// Registry holds published templates. Definitions are kept by id; compiled
// graphs are cached by content hash and rebuilt on eviction.
type Registry struct {
	mu        sync.RWMutex
	compileMu sync.Mutex
	templates map[string]entry
	cache     *ristretto.Cache
	defaults  Defaults
	known     KindChecker
	logger    *slog.Logger
}

type entry struct {
	template Template
	hash     string
}

// NewRegistry constructs an empty registry. known may be nil to accept any kind.
func NewRegistry(defaults Defaults, known KindChecker, logger *slog.Logger) (*Registry, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * graphCacheSize,
		MaxCost:     graphCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("template graph cache: %w", err)
	}
	return &Registry{
		templates: make(map[string]entry),
		cache:     cache,
		defaults:  defaults,
		known:     known,
		logger:    logging.NewComponentLogger(logger, "templates"),
	}, nil
}

// Close releases cache resources.
func (r *Registry) Close() {
	if r != nil && r.cache != nil {
		r.cache.Close()
	}
}

// Register validates and publishes tpl. Registering identical content again is
// a no-op; different content under an existing id fails with
// workflow.ErrTemplateExists. The returned bool reports whether the template
// was newly added.
func (r *Registry) Register(tpl Template) (*Compiled, bool, error) {
	compiled, err := Compile(tpl, r.defaults)
	if err != nil {
		return nil, false, err
	}
	if r.known != nil {
		for _, kind := range compiled.Kinds() {
			if !r.known(kind) {
				return nil, false, invalid("template %s: no executor registered for kind %q", compiled.Template.ID, kind)
			}
		}
	}

	id := compiled.Template.ID
	r.mu.Lock()
	existing, ok := r.templates[id]
	if ok {
		r.mu.Unlock()
		if existing.hash != compiled.Hash {
			return nil, false, fmt.Errorf("%w: %s", workflow.ErrTemplateExists, id)
		}
		return compiled, false, nil
	}
	r.templates[id] = entry{template: compiled.Template, hash: compiled.Hash}
	r.mu.Unlock()

	r.cache.Set(compiled.Hash, compiled, 1)
	r.cache.Wait()
	r.logger.Info("template registered",
		logging.String(logging.FieldTemplateID, id),
		logging.String("hash", compiled.Hash),
		logging.Int("steps", len(compiled.Template.Steps)),
		logging.String(logging.FieldEventType, "template_registered"),
	)
	return compiled, true, nil
}

// Lookup returns the compiled template for id or workflow.ErrTemplateNotFound.
func (r *Registry) Lookup(id string) (*Compiled, error) {
	r.mu.RLock()
	e, ok := r.templates[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrTemplateNotFound, id)
	}

	if val, found := r.cache.Get(e.hash); found {
		return val.(*Compiled), nil
	}

	// serialize rebuilds so concurrent misses compile once
	r.compileMu.Lock()
	defer r.compileMu.Unlock()
	if val, found := r.cache.Get(e.hash); found {
		return val.(*Compiled), nil
	}
	compiled, err := Compile(e.template, r.defaults)
	if err != nil {
		return nil, fmt.Errorf("recompile template %s: %w", id, err)
	}
	r.cache.Set(e.hash, compiled, 1)
	return compiled, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[id]
	return ok
}

// List returns all registered templates sorted by id.
func (r *Registry) List() []Template {
	r.mu.RLock()
	out := make([]Template, 0, len(r.templates))
	for _, e := range r.templates {
		out = append(out, e.template)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
