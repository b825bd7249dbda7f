package providers

import (
	"time"

	"market-signal-engine/config"
)

// Protocol selects the request/response envelope used by a provider
type Protocol string

const (
	ProtocolChat       Protocol = "chat"       // OpenAI-style chat completions
	ProtocolGenerative Protocol = "generative" // Gemini-style generateContent
)

// Spec is the static description of an inference provider
type Spec struct {
	Name          string            `json:"name"`
	Protocol      Protocol          `json:"protocol"`
	Endpoint      string            `json:"endpoint"`
	Model         string            `json:"model"`
	FastModel     string            `json:"fast_model,omitempty"`
	CredentialKey string            `json:"credential_key"`
	Headers       map[string]string `json:"headers,omitempty"`
	Priority      int               `json:"priority"`
	RPMLimit      int               `json:"rpm_limit"`
	RPDLimit      int               `json:"rpd_limit"`
	Enabled       bool              `json:"enabled"`
}

// ModelFor returns the model used for a call, preferring the fast model when
// one is configured and fast mode is requested
func (s Spec) ModelFor(fast bool) string {
	if fast && s.FastModel != "" {
		return s.FastModel
	}
	return s.Model
}

// SpecFromConfig converts a configured provider entry
func SpecFromConfig(c config.ProviderConfig) Spec {
	protocol := Protocol(c.Protocol)
	if protocol != ProtocolGenerative {
		protocol = ProtocolChat
	}
	return Spec{
		Name:          c.Name,
		Protocol:      protocol,
		Endpoint:      c.Endpoint,
		Model:         c.Model,
		FastModel:     c.FastModel,
		CredentialKey: c.CredentialKey,
		Headers:       c.Headers,
		Priority:      c.Priority,
		RPMLimit:      c.RPMLimit,
		RPDLimit:      c.RPDLimit,
		Enabled:       c.Enabled,
	}
}

// SpecsFromConfig converts the configured provider catalogue
func SpecsFromConfig(cfg config.AIConfig) []Spec {
	specs := make([]Spec, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		specs = append(specs, SpecFromConfig(p))
	}
	return specs
}

// Record is the mutable rate-limit and health state of one provider
type Record struct {
	Name              string     `json:"name"`
	Enabled           bool       `json:"enabled"`
	Priority          int        `json:"priority"`
	RPMLimit          int        `json:"rpm_limit"`
	RPMUsed           int        `json:"rpm_used"`
	RPMWindowStart    time.Time  `json:"rpm_window_start"`
	RPDLimit          int        `json:"rpd_limit"`
	RPDUsed           int        `json:"rpd_used"`
	RPDResetAt        time.Time  `json:"rpd_reset_at"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
	SuccessCount      int64      `json:"success_count"`
	ErrorCount        int64      `json:"error_count"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	TotalLatencyMs    int64      `json:"total_latency_ms"`
	LastError         string     `json:"last_error,omitempty"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

// NewRecord seeds a fresh record from a provider spec
func NewRecord(spec Spec, now time.Time) Record {
	return Record{
		Name:           spec.Name,
		Enabled:        spec.Enabled,
		Priority:       spec.Priority,
		RPMLimit:       spec.RPMLimit,
		RPMWindowStart: now,
		RPDLimit:       spec.RPDLimit,
		RPDResetAt:     now,
	}
}

// RemainingDaily is the unused part of the daily budget
func (r Record) RemainingDaily() int {
	return r.RPDLimit - r.RPDUsed
}

// InCooldown reports whether the provider is still cooling down at now
func (r Record) InCooldown(now time.Time) bool {
	return r.CooldownUntil != nil && now.Before(*r.CooldownUntil)
}

// MinuteBudgetSpent reports whether the per-minute budget is used up
func (r Record) MinuteBudgetSpent() bool {
	return r.RPMUsed >= r.RPMLimit
}

// DailyBudgetSpent keeps a 1% daily reserve instead of running to the limit
func (r Record) DailyBudgetSpent() bool {
	return float64(r.RPDUsed) >= 0.99*float64(r.RPDLimit)
}

// AverageLatency is the mean latency over successful calls
func (r Record) AverageLatency() time.Duration {
	if r.SuccessCount == 0 {
		return 0
	}
	return time.Duration(r.TotalLatencyMs/r.SuccessCount) * time.Millisecond
}

// SuccessRate is successes over all recorded attempts, in percent
func (r Record) SuccessRate() float64 {
	total := r.SuccessCount + r.ErrorCount
	if total == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(total) * 100
}

// refresh applies the lazy window resets at now and reports whether anything
// changed
func (r *Record) refresh(now time.Time) bool {
	changed := false

	if r.CooldownUntil != nil && !now.Before(*r.CooldownUntil) {
		r.CooldownUntil = nil
		changed = true
	}

	// A forced over-budget counter must survive the window while cooling down
	if r.CooldownUntil == nil && now.Sub(r.RPMWindowStart) >= time.Minute {
		if r.RPMUsed != 0 {
			changed = true
		}
		r.RPMUsed = 0
		r.RPMWindowStart = now
	}

	if r.RPDResetAt.Before(startOfUTCDay(now)) {
		r.RPDUsed = 0
		r.RPDResetAt = now
		changed = true
	}

	return changed
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// nextUTCMidnight is when every daily counter resets
func nextUTCMidnight(t time.Time) time.Time {
	return startOfUTCDay(t).Add(24 * time.Hour)
}
