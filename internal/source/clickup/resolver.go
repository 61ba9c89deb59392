package clickup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/source"
)

// DefaultCandidateTimeout bounds a single candidate attempt.
const DefaultCandidateTimeout = 30 * time.Second

// TryFunc attempts an operation against one candidate.
type TryFunc func(ctx context.Context, c Candidate) error

// Resolver walks the candidates for an operation in priority order until
// one succeeds. Each candidate is tried once.
type Resolver struct {
	endpoints Endpoints
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewResolver creates a resolver. A non-positive timeout uses
// DefaultCandidateTimeout.
func NewResolver(endpoints Endpoints, timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultCandidateTimeout
	}
	return &Resolver{
		endpoints: endpoints,
		timeout:   timeout,
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve runs try against each candidate for op under its own timeout
// and returns the first candidate that succeeded. When every candidate
// fails it returns *source.AllEndpointsFailedError. Cancelling ctx stops
// the walk immediately.
func (r *Resolver) Resolve(ctx context.Context, op model.Operation, target Target, try TryFunc) (Candidate, error) {
	candidates := r.endpoints.Candidates(op, target)
	failed := &source.AllEndpointsFailedError{Operation: op}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}

		err := r.attempt(ctx, c, try)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return Candidate{}, ctx.Err()
		}

		r.logger.Warn().
			Err(err).
			Str("operation", string(op)).
			Str("candidate", c.Name).
			Int("status", source.StatusCode(err)).
			Msg("endpoint candidate failed")

		failed.Failures = append(failed.Failures, &source.EndpointFailure{
			Candidate: c.Name,
			Err:       err,
		})
	}

	return Candidate{}, failed
}

func (r *Resolver) attempt(ctx context.Context, c Candidate, try TryFunc) error {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return try(cctx, c)
}
