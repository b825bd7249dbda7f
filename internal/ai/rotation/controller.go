package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-signal-engine/internal/ai/llm"
	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/logging"
)

// State is a step of one rotation
type State string

const (
	StateSelecting          State = "selecting"
	StateInvoking           State = "invoking"
	StateSucceeded          State = "succeeded"
	StateExhaustedProviders State = "exhausted_providers"
	StateExhaustedAttempts  State = "exhausted_attempts"
)

// Terminal reports whether the rotation stops in this state
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateExhaustedProviders, StateExhaustedAttempts:
		return true
	}
	return false
}

// DefaultMaxAttempts caps provider calls per request
const DefaultMaxAttempts = 3

// Invoker performs one provider call
type Invoker interface {
	Call(ctx context.Context, target llm.Target, systemPrompt, userPrompt string, maxTokens int) (*llm.Result, error)
}

// Registry is the provider state the controller selects from and reports to
type Registry interface {
	Next(ctx context.Context, exclude map[string]bool, preferred string) (*providers.Choice, error)
	RecordSuccess(ctx context.Context, name string, latency time.Duration) error
	RecordFailure(ctx context.Context, name string, cause error, rateLimited bool) (time.Duration, error)
}

// Config holds rotation limits
type Config struct {
	MaxAttempts   int
	MaxTokens     int // full analysis
	FastMaxTokens int // compact per-pair calls
}

// Request is one logical analysis request
type Request struct {
	Prompt       string
	SystemPrompt string
	Fast         bool   // use the fast model and the compact token budget
	Preferred    string // provider tried first when usable; "" or "auto" for none
}

// Attempt records one provider call
type Attempt struct {
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	Latency     time.Duration `json:"latency"`
	Error       string        `json:"error,omitempty"`
	RateLimited bool          `json:"rate_limited,omitempty"`
	Cooldown    time.Duration `json:"cooldown,omitempty"`
}

// Outcome is the result of a rotation. Content is empty unless State is
// StateSucceeded.
type Outcome struct {
	Content  string        `json:"content,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
	Latency  time.Duration `json:"latency"`
	Attempts []Attempt     `json:"attempts"`
	State    State         `json:"state"`
}

// Succeeded reports whether a provider produced content
func (o *Outcome) Succeeded() bool {
	return o.State == StateSucceeded
}

// Controller rotates one request across providers until one succeeds, the
// registry runs out of candidates, or the attempt cap is reached
type Controller struct {
	registry Registry
	invoker  Invoker
	config   Config
}

// NewController creates a rotation controller
func NewController(registry Registry, invoker Invoker, cfg Config) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.FastMaxTokens <= 0 {
		cfg.FastMaxTokens = 300
	}
	return &Controller{
		registry: registry,
		invoker:  invoker,
		config:   cfg,
	}
}

// Analyze runs the rotation. Provider failures are recorded and rotated past;
// only registry store failures and context cancellation are returned as
// errors. An exhausted rotation is a normal Outcome with empty Content.
func (c *Controller) Analyze(ctx context.Context, req Request) (*Outcome, error) {
	log := logging.FromContext(ctx).WithComponent("rotation")

	maxTokens := c.config.MaxTokens
	if req.Fast {
		maxTokens = c.config.FastMaxTokens
	}

	outcome := &Outcome{Attempts: []Attempt{}}
	tried := make(map[string]bool)
	var choice *providers.Choice

	state := StateSelecting
	for !state.Terminal() {
		switch state {
		case StateSelecting:
			if len(outcome.Attempts) >= c.config.MaxAttempts {
				state = StateExhaustedAttempts
				continue
			}
			next, err := c.registry.Next(ctx, tried, req.Preferred)
			if errors.Is(err, providers.ErrNoProviderAvailable) {
				state = StateExhaustedProviders
				continue
			}
			if err != nil {
				outcome.State = state
				return outcome, fmt.Errorf("failed to select provider: %w", err)
			}
			choice = next
			state = StateInvoking

		case StateInvoking:
			name := choice.Spec.Name
			tried[name] = true
			target := llm.TargetFor(choice, req.Fast)

			res, callErr := c.invoker.Call(ctx, target, req.SystemPrompt, req.Prompt, maxTokens)
			if callErr == nil {
				if err := c.registry.RecordSuccess(ctx, name, res.Latency); err != nil {
					outcome.State = state
					return outcome, fmt.Errorf("failed to record success: %w", err)
				}
				outcome.Attempts = append(outcome.Attempts, Attempt{Provider: name, Model: target.Model, Latency: res.Latency})
				outcome.Content = res.Text
				outcome.Provider = name
				outcome.Model = target.Model
				outcome.Latency = res.Latency
				state = StateSucceeded
				continue
			}

			if ctx.Err() != nil {
				outcome.State = state
				return outcome, ctx.Err()
			}

			rateLimited := llm.IsRateLimit(callErr)
			cooldown, err := c.registry.RecordFailure(ctx, name, callErr, rateLimited)
			if err != nil {
				outcome.State = state
				return outcome, fmt.Errorf("failed to record failure: %w", err)
			}
			outcome.Attempts = append(outcome.Attempts, Attempt{
				Provider:    name,
				Model:       target.Model,
				Error:       callErr.Error(),
				RateLimited: rateLimited,
				Cooldown:    cooldown,
			})
			logging.ProviderContext(ctx, name, target.Model).Warn("Provider call failed, rotating",
				"attempt", len(outcome.Attempts), "rate_limited", rateLimited, "error", callErr)
			state = StateSelecting
		}
	}

	outcome.State = state
	if state != StateSucceeded {
		log.Warn("No signal produced", "state", string(state), "attempts", len(outcome.Attempts))
	} else {
		logging.ProviderContext(ctx, outcome.Provider, outcome.Model).Debug("Provider call succeeded",
			"latency_ms", outcome.Latency.Milliseconds())
	}
	return outcome, nil
}
