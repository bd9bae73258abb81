package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/tjfontaine/revintel-gateway/internal/backend"
	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/eventbus"
	"github.com/tjfontaine/revintel-gateway/internal/pkg/metrics"
)

// step is one announced stage of a generation.
type step struct {
	progress int
	name     string
}

var (
	stepsBefore = []step{{10, "Preparing context"}, {50, "Generating content"}}
	stepsAfter  = []step{{90, "Finalizing"}, {100, "Complete"}}
)

// Generator runs generations against the backend, announcing progress on the bus.
type Generator struct {
	bus     *eventbus.Bus
	backend ports.GenerationBackend
	policy  ports.QualityPolicy
	clock   clockwork.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[resourceKey]struct{}
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithPolicy sets the quality policy consulted before each generation.
func WithPolicy(p ports.QualityPolicy) GeneratorOption {
	return func(g *Generator) {
		g.policy = p
	}
}

// WithGeneratorClock sets the clock used to timestamp results.
func WithGeneratorClock(c clockwork.Clock) GeneratorOption {
	return func(g *Generator) {
		g.clock = c
	}
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = l
	}
}

// NewGenerator creates a generator that calls be.
func NewGenerator(bus *eventbus.Bus, be ports.GenerationBackend, opts ...GeneratorOption) *Generator {
	g := &Generator{
		bus:      bus,
		backend:  be,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		inFlight: make(map[resourceKey]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate validates req, checks the quality policy, then calls the backend
// with ctx. Progress, completion and failure are emitted on the bus. Only
// one generation per resource runs at a time.
func (g *Generator) Generate(ctx context.Context, user domain.AuthUser, req domain.GenerateRequest, auth ports.BackendAuth) (*domain.GeneratedResource, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if g.policy != nil {
		decision, err := g.policy.CheckRequest(ctx, &ports.PolicyRequest{
			CustomerID:   user.CustomerID,
			UserID:       user.ID,
			ResourceType: req.ResourceType,
		})
		if err != nil {
			return nil, fmt.Errorf("quality policy: %w", err)
		}
		if !decision.Allow {
			metrics.RecordGeneration(req.ResourceType, "rate_limited", 0)
			return nil, domain.ErrRateLimit(decision.Reason).WithRetryAfter(decision.RetryAfter)
		}
	}

	key := resourceKey{customerID: user.CustomerID, resourceID: req.ResourceID}
	if !g.acquire(key) {
		return nil, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "generation already in progress for resource "+req.ResourceID).
			WithCode(domain.ErrorCodeInProgress).
			WithStatusCode(http.StatusConflict)
	}
	defer g.release(key)

	base := map[string]any{
		domain.PayloadResourceID: req.ResourceID,
		domain.PayloadCustomerID: user.CustomerID,
		payloadResourceType:      req.ResourceType,
	}

	start := g.clock.Now()
	g.bus.Emit(domain.EventGenerationStarted, with(base, payloadProgress, 0, payloadStep, "Starting"))
	for _, s := range stepsBefore {
		g.bus.Emit(domain.EventGenerationProgress, with(base, payloadProgress, s.progress, payloadStep, s.name))
	}

	res, err := g.backend.Generate(ctx, req, auth)
	elapsed := g.clock.Since(start)
	if err != nil {
		msg := failureMessage(ctx, err)
		g.logger.Error("resource generation failed",
			slog.String("resource_id", req.ResourceID),
			slog.String("resource_type", req.ResourceType),
			slog.String("customer_id", user.CustomerID),
			slog.String("error", err.Error()),
		)
		metrics.RecordGeneration(req.ResourceType, "failed", elapsed)
		g.bus.Emit(domain.EventGenerationFailed, with(base, payloadError, msg))
		return nil, domain.ErrGenerationFailed(msg).WithCause(err)
	}

	// The requested ID and the caller's customer always win over what the
	// backend echoes back.
	out := *res
	out.ID = req.ResourceID
	out.CustomerID = user.CustomerID
	if out.Duration == 0 {
		out.Duration = elapsed
	}
	if out.GeneratedAt.IsZero() {
		out.GeneratedAt = g.clock.Now().UTC()
	}

	for _, s := range stepsAfter {
		g.bus.Emit(domain.EventGenerationProgress, with(base, payloadProgress, s.progress, payloadStep, s.name))
	}
	g.bus.Emit(domain.EventGenerationCompleted, with(base, payloadResource, out))

	metrics.RecordGeneration(req.ResourceType, "completed", elapsed)
	g.logger.Info("resource generated",
		slog.String("resource_id", out.ID),
		slog.String("resource_type", req.ResourceType),
		slog.String("customer_id", out.CustomerID),
		slog.Duration("duration", elapsed),
	)
	return &out, nil
}

func (g *Generator) acquire(id resourceKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[id]; busy {
		return false
	}
	g.inFlight[id] = struct{}{}
	return true
}

func (g *Generator) release(id resourceKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, id)
}

func validate(req domain.GenerateRequest) error {
	switch {
	case req.ResourceID == "":
		return domain.ErrInvalidRequest("resourceId is required")
	case req.ResourceType == "":
		return domain.ErrInvalidRequest("resourceType is required")
	case req.CustomerData == nil:
		return domain.ErrInvalidRequest("customerData is required")
	}
	return nil
}

// failureMessage passes backend messages through; transport errors get a
// generic message.
func failureMessage(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "generation cancelled"
	}
	var be *backend.Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return "resource generation failed"
}

// with copies base and adds key/value pairs.
func with(base map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}
