package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xraph/backlog"
)

// HandlerFunc is a type-erased job handler. It receives the raw payload and
// returns the raw result recorded on the completed job. The context is
// cancelled when the attempt times out or the engine abandons it.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps job types to handlers. It is safe for concurrent use and
// is never persisted.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]HandlerFunc
	logger   *slog.Logger
}

// NewRegistry creates an empty job registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[Type]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a handler to a type. The last registration wins.
func (r *Registry) Register(typ Type, h HandlerFunc) {
	r.mu.Lock()
	_, replaced := r.handlers[typ]
	r.handlers[typ] = h
	r.mu.Unlock()

	if replaced {
		r.logger.Info("job handler replaced", slog.String("type", string(typ)))
	}
}

// Resolve returns the handler for typ or an error wrapping
// backlog.ErrHandlerNotFound.
func (r *Registry) Resolve(typ Type) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", backlog.ErrHandlerNotFound, typ)
	}
	return h, nil
}

// Types returns all registered types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// RegisterDefinition registers a typed job definition. The typed handler is
// wrapped in a closure that JSON-decodes the payload into T and encodes the
// returned R as the job result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	r.Register(def.Type, func(ctx context.Context, payload []byte) ([]byte, error) {
		var in T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Type, err)
			}
		}
		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job %q: %w", def.Type, err)
		}
		return data, nil
	})
}
