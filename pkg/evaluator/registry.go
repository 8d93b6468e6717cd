package evaluator

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry maps evaluator kinds to handlers.
//
// Populate it before an experiment starts scheduling work. Lookups are safe
// from many goroutines, but registering while evaluations are in flight is
// not supported: a unit may observe either the old or the new handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		handlers: make(map[Kind]Handler),
		logger:   logger,
	}
}

// Register adds a handler for kind. An existing handler is replaced and a
// warning is logged.
func (r *Registry) Register(kind Kind, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		r.logger.Warn("overwriting evaluator handler", "type", string(kind))
	}

	r.handlers[kind] = handler
}

func (r *Registry) Get(kind Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	return h, ok
}

func (r *Registry) Has(kind Kind) bool {
	_, ok := r.Get(kind)
	return ok
}

// List returns the registered kinds sorted lexicographically.
func (r *Registry) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

// Unregister removes kind and reports whether it was present.
func (r *Registry) Unregister(kind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.handlers[kind]
	delete(r.handlers, kind)
	return ok
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[Kind]Handler)
}

// NewDefaultRegistry returns a registry populated with the builtin kinds.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)

	r.Register(KindExactMatch, HandlerFunc(exactMatch))
	r.Register(KindContains, HandlerFunc(contains))
	r.Register(KindRegex, HandlerFunc(regexMatch))
	r.Register(KindJSONSchema, NewJSONSchemaHandler())
	r.Register(KindScript, HandlerFunc(runScript))
	r.Register(KindHTTP, NewHTTPHandler(nil))
	r.Register(KindLLMJudge, NewLLMJudgeHandler())

	return r
}
