package job

import "context"

// Definition is a typed job definition. T is the payload type and R the
// result type; both must be JSON-serializable.
type Definition[T, R any] struct {
	// Type is the unique identifier for this kind of job.
	Type Type

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, payload T) (R, error)

	// Opts are the defaults applied when jobs of this type are enqueued.
	Opts []Option
}

// NewDefinition creates a typed job definition.
func NewDefinition[T, R any](typ Type, handler func(ctx context.Context, payload T) (R, error), opts ...Option) *Definition[T, R] {
	return &Definition[T, R]{
		Type:    typ,
		Handler: handler,
		Opts:    opts,
	}
}
