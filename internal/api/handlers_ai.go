package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"market-signal-engine/internal/ai/llm"
	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/ai/rotation"
	"market-signal-engine/internal/database"
	"market-signal-engine/internal/scanner"

	"github.com/gin-gonic/gin"
)

const (
	probeSystemPrompt = "You are a connectivity check. Answer with the single word OK."
	probePrompt       = "Reply with OK."
	testMaxTokens     = 20
	validateMaxTokens = 5
	probeSnippetLen   = 200
)

// AnalyzeParams are the parameters of the analyze action
type AnalyzeParams struct {
	Symbol   string `json:"symbol" validate:"required,min=3,max=30"`
	Exchange string `json:"exchange" validate:"omitempty,max=20"`
	Notes    string `json:"notes" validate:"max=1000"`
}

// ProviderParams name one provider
type ProviderParams struct {
	Provider string `json:"provider" validate:"required,max=64"`
}

// ToggleParams are the parameters of the toggle-provider action
type ToggleParams struct {
	Provider string `json:"provider" validate:"required,max=64"`
	Enabled  *bool  `json:"enabled" validate:"required"`
}

// ConfigParams are the parameters of the set-config action
type ConfigParams struct {
	ActiveProvider string `json:"active_provider" validate:"omitempty,max=64"`
	ScanEnabled    *bool  `json:"scan_enabled"`
}

// ExchangeParams are the parameters of the set-exchange action
type ExchangeParams struct {
	Exchange  string `json:"exchange" validate:"required,max=20"`
	Connected *bool  `json:"connected" validate:"required"`
}

// SignalQuery filters signal listings
type SignalQuery struct {
	Exchange  string `json:"exchange" form:"exchange" validate:"omitempty,max=20"`
	Sentiment string `json:"sentiment" form:"sentiment" validate:"omitempty,oneof=BULLISH BEARISH NEUTRAL"`
	Limit     int    `json:"limit" form:"limit" default:"100" validate:"gte=1,lte=1000"`
}

func (s *Server) analyze(c *gin.Context, p *AnalyzeParams) {
	ctx := c.Request.Context()

	capacity, err := s.deps.Registry.Capacity(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}
	if !capacity.Available() {
		unavailableResponse(c, capacity.NextAvailableAt, nil)
		return
	}

	sig, outcome, err := s.deps.Scanner.AnalyzeSymbol(ctx, p.Symbol, p.Exchange, p.Notes)
	if errors.Is(err, scanner.ErrNoSignal) || errors.Is(err, scanner.ErrUnparseable) {
		s.noSignal(c, outcome, err)
		return
	}
	if err != nil {
		s.failure(c, err)
		return
	}

	successResponse(c, gin.H{
		"signal":     sig,
		"provider":   outcome.Provider,
		"model":      outcome.Model,
		"latency_ms": outcome.Latency.Milliseconds(),
		"attempts":   outcome.Attempts,
	})
}

// noSignal reports an analysis that produced nothing. Running out of
// providers mid-rotation is reported as unavailability.
func (s *Server) noSignal(c *gin.Context, outcome *rotation.Outcome, cause error) {
	if outcome != nil && outcome.State == rotation.StateExhaustedProviders {
		capacity, err := s.deps.Registry.Capacity(c.Request.Context())
		if err != nil {
			s.failure(c, err)
			return
		}
		unavailableResponse(c, capacity.NextAvailableAt, gin.H{"attempts": outcome.Attempts})
		return
	}

	body := gin.H{
		"success": false,
		"error":   "NO_SIGNAL",
		"message": cause.Error(),
	}
	if outcome != nil {
		body["state"] = outcome.State
		body["attempts"] = outcome.Attempts
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) marketScan(c *gin.Context, _ []byte) {
	summary, err := s.deps.Scanner.Run(c.Request.Context())
	if err != nil {
		s.failure(c, err)
		return
	}
	if summary.Unavailable {
		unavailableResponse(c, summary.NextAvailableAt, gin.H{"summary": summary})
		return
	}
	successResponse(c, summary)
}

func (s *Server) getProviders(c *gin.Context, _ []byte) {
	ctx := c.Request.Context()

	list, err := s.deps.Registry.List(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}
	capacity, err := s.deps.Registry.Capacity(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}
	successResponse(c, gin.H{
		"providers": list,
		"capacity":  capacity,
	})
}

func (s *Server) testProvider(c *gin.Context, p *ProviderParams) {
	ctx := c.Request.Context()

	choice, err := s.deps.Registry.Get(ctx, p.Provider)
	if err != nil {
		s.failure(c, err)
		return
	}
	if !providers.ValidCredential(choice.Credential) {
		successResponse(c, gin.H{
			"provider": p.Provider,
			"ok":       false,
			"error":    "missing or invalid credential",
		})
		return
	}

	result, callErr, err := s.probe(ctx, choice, testMaxTokens)
	if err != nil {
		s.failure(c, err)
		return
	}

	data := gin.H{
		"provider": p.Provider,
		"model":    choice.Spec.ModelFor(true),
		"ok":       callErr == nil,
	}
	if callErr != nil {
		data["error"] = callErr.Error()
		data["rate_limited"] = llm.IsRateLimit(callErr)
	} else {
		data["latency_ms"] = result.Latency.Milliseconds()
		data["response"] = snippet(result.Text, probeSnippetLen)
	}
	successResponse(c, data)
}

func (s *Server) validateKey(c *gin.Context, p *ProviderParams) {
	ctx := c.Request.Context()

	valid, err := s.deps.Registry.ValidateCredential(ctx, p.Provider)
	if err != nil {
		s.failure(c, err)
		return
	}
	if !valid {
		successResponse(c, gin.H{"provider": p.Provider, "valid": false, "reachable": false})
		return
	}

	choice, err := s.deps.Registry.Get(ctx, p.Provider)
	if err != nil {
		s.failure(c, err)
		return
	}
	_, callErr, err := s.probe(ctx, choice, validateMaxTokens)
	if err != nil {
		s.failure(c, err)
		return
	}

	data := gin.H{"provider": p.Provider, "valid": true, "reachable": callErr == nil}
	if callErr != nil {
		data["error"] = callErr.Error()
	}
	successResponse(c, data)
}

// probe makes one minimal call to a provider and records it against the
// provider's budget. callErr is the provider failure; err is a store failure.
func (s *Server) probe(ctx context.Context, choice *providers.Choice, maxTokens int) (result *llm.Result, callErr error, err error) {
	name := choice.Record.Name
	result, callErr = s.deps.Invoker.Call(ctx, llm.TargetFor(choice, true), probeSystemPrompt, probePrompt, maxTokens)
	if callErr == nil {
		return result, nil, s.deps.Registry.RecordSuccess(ctx, name, result.Latency)
	}
	if ctx.Err() != nil {
		return nil, callErr, ctx.Err()
	}
	if _, recErr := s.deps.Registry.RecordFailure(ctx, name, callErr, llm.IsRateLimit(callErr)); recErr != nil {
		return nil, callErr, recErr
	}
	return nil, callErr, nil
}

func (s *Server) toggleProvider(c *gin.Context, p *ToggleParams) {
	rec, err := s.deps.Registry.SetEnabled(c.Request.Context(), p.Provider, *p.Enabled)
	if err != nil {
		s.failure(c, err)
		return
	}
	s.deps.EventBus.PublishProviderToggled(rec.Name, rec.Enabled)
	successResponse(c, rec)
}

func (s *Server) setExchange(c *gin.Context, p *ExchangeParams) {
	names, err := s.deps.Scanner.SetExchangeConnected(c.Request.Context(), p.Exchange, *p.Connected)
	if err != nil {
		s.failure(c, err)
		return
	}
	successResponse(c, gin.H{"exchanges": names})
}

func (s *Server) resetDailyLimits(c *gin.Context, _ []byte) {
	n, err := s.deps.Registry.ResetDailyLimits(c.Request.Context())
	if err != nil {
		s.failure(c, err)
		return
	}
	successResponse(c, gin.H{"reset": n})
}

func (s *Server) getConfig(c *gin.Context, _ []byte) {
	settings, err := s.deps.Store.GetSettings(c.Request.Context())
	if err != nil {
		s.failure(c, err)
		return
	}
	successResponse(c, gin.H{
		"settings":  settings,
		"providers": s.providerNames(),
		"last_scan": s.deps.Scanner.LastSummary(),
	})
}

func (s *Server) setConfig(c *gin.Context, p *ConfigParams) {
	ctx := c.Request.Context()

	settings, err := s.deps.Store.GetSettings(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}

	if p.ActiveProvider != "" {
		name, ok := s.canonicalProvider(strings.TrimSpace(p.ActiveProvider))
		if !ok {
			errorResponse(c, http.StatusBadRequest, "UNKNOWN_PROVIDER", "unknown provider: "+p.ActiveProvider)
			return
		}
		settings.ActiveProvider = name
	}
	if p.ScanEnabled != nil {
		settings.ScanEnabled = *p.ScanEnabled
	}

	if err := s.deps.Store.SaveSettings(ctx, settings); err != nil {
		s.failure(c, err)
		return
	}
	s.deps.EventBus.PublishSettingsUpdated(settings)
	successResponse(c, settings)
}

func (s *Server) getSignals(c *gin.Context, p *SignalQuery) {
	data, err := s.listSignals(c, p)
	if err != nil {
		s.failure(c, err)
		return
	}
	successResponse(c, data)
}

func (s *Server) listSignals(c *gin.Context, p *SignalQuery) (gin.H, error) {
	signals, err := s.deps.Store.ListSignals(c.Request.Context(), database.SignalFilter{
		Exchange:  strings.ToLower(p.Exchange),
		Sentiment: p.Sentiment,
		Limit:     p.Limit,
	})
	if err != nil {
		return nil, err
	}
	return gin.H{"signals": signals, "count": len(signals)}, nil
}

func (s *Server) providerNames() []string {
	specs := s.deps.Registry.Specs()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}

// canonicalProvider maps a requested preference to "auto" or a configured
// provider name
func (s *Server) canonicalProvider(name string) (string, bool) {
	if strings.EqualFold(name, database.ActiveProviderAuto) {
		return database.ActiveProviderAuto, true
	}
	for _, spec := range s.deps.Registry.Specs() {
		if strings.EqualFold(spec.Name, name) {
			return spec.Name, true
		}
	}
	return "", false
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
