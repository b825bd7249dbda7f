package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"

	"market-signal-engine/internal/logging"
)

var (
	// ErrUnknownProvider is returned for a name missing from the catalogue
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNoProviderAvailable means every provider is disabled, cooling down,
	// out of budget or missing a credential
	ErrNoProviderAvailable = errors.New("no inference provider available")
)

const (
	maxCooldownMinutes = 5
	maxLastErrorLength = 500
)

// Observer receives provider call outcomes, typically a metrics recorder
type Observer interface {
	ObserveProviderCall(provider, outcome string, latency time.Duration)
	ObserveCooldown(provider string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveProviderCall(string, string, time.Duration) {}
func (nopObserver) ObserveCooldown(string, time.Duration)             {}

// MultiObserver fans registry observations out to several observers
type MultiObserver []Observer

// ObserveProviderCall forwards to every observer
func (m MultiObserver) ObserveProviderCall(provider, outcome string, latency time.Duration) {
	for _, o := range m {
		o.ObserveProviderCall(provider, outcome, latency)
	}
}

// ObserveCooldown forwards to every observer
func (m MultiObserver) ObserveCooldown(provider string, d time.Duration) {
	for _, o := range m {
		o.ObserveCooldown(provider, d)
	}
}

// Option configures a Registry
type Option func(*Registry)

// WithClock injects the time source
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithObserver attaches a call outcome observer
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger sets the registry logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry owns provider rate-limit state. Read-modify-write cycles are not
// serialized; callers process providers sequentially.
type Registry struct {
	store    Store
	selector *Selector
	specs    []Spec
	clock    clock.Clock
	observer Observer
	logger   *logging.Logger
}

// Capacity summarizes whether any provider can take calls
type Capacity struct {
	Usable          []string   `json:"usable"`
	NextAvailableAt *time.Time `json:"next_available_at,omitempty"`
}

// Available reports whether at least one provider is usable
func (c *Capacity) Available() bool {
	return len(c.Usable) > 0
}

// Status is a record enriched for display
type Status struct {
	Record
	Protocol      Protocol   `json:"protocol"`
	Model         string     `json:"model"`
	FastModel     string     `json:"fast_model,omitempty"`
	HasCredential bool       `json:"has_credential"`
	Available     bool       `json:"available"`
	SkipReason    SkipReason `json:"skip_reason,omitempty"`
	AvgLatencyMs  int64      `json:"avg_latency_ms"`
	SuccessRate   float64    `json:"success_rate"`
}

// NewRegistry creates a registry over store for the given catalogue
func NewRegistry(store Store, specs []Spec, creds CredentialResolver, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		selector: NewSelector(specs, creds),
		specs:    specs,
		clock:    clock.New(),
		observer: nopObserver{},
		logger:   logging.WithComponent("providers"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry clock time
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// Specs returns the provider catalogue
func (r *Registry) Specs() []Spec {
	return r.specs
}

// Seed inserts a record for every catalogue entry that has none yet
func (r *Registry) Seed(ctx context.Context) error {
	existing, err := r.store.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("failed to list providers: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, rec := range existing {
		known[rec.Name] = true
	}

	now := r.clock.Now()
	for _, spec := range r.specs {
		if known[spec.Name] {
			continue
		}
		rec := NewRecord(spec, now)
		if err := r.store.SaveProvider(ctx, &rec); err != nil {
			return fmt.Errorf("failed to seed provider %s: %w", spec.Name, err)
		}
		r.logger.Info("Seeded provider", "provider", spec.Name, "priority", spec.Priority)
	}
	return nil
}

// Refresh clears elapsed minute windows, daily counters from a previous UTC
// day and expired cooldowns, persisting every changed record
func (r *Registry) Refresh(ctx context.Context) ([]Record, error) {
	records, err := r.store.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	now := r.clock.Now()
	for i := range records {
		if !records[i].refresh(now) {
			continue
		}
		if err := r.store.SaveProvider(ctx, &records[i]); err != nil {
			return nil, fmt.Errorf("failed to save provider %s: %w", records[i].Name, err)
		}
	}
	return records, nil
}

// Next refreshes state and selects a provider not in exclude. A usable
// preferred provider is returned ahead of the quota ordering.
func (r *Registry) Next(ctx context.Context, exclude map[string]bool, preferred string) (*Choice, error) {
	records, err := r.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()

	if preferred != "" && preferred != "auto" && !exclude[preferred] {
		for _, rec := range records {
			if rec.Name != preferred {
				continue
			}
			if cred, reason := r.selector.Usable(ctx, rec, now); reason == "" {
				spec, _ := r.selector.Spec(rec.Name)
				return &Choice{Record: rec, Spec: spec, Credential: cred}, nil
			}
		}
	}

	choice, ok := r.selector.Select(ctx, records, now, exclude)
	if !ok {
		return nil, ErrNoProviderAvailable
	}
	return choice, nil
}

// RecordSuccess counts a successful call and clears any error streak and
// cooldown
func (r *Registry) RecordSuccess(ctx context.Context, name string, latency time.Duration) error {
	rec, err := r.find(ctx, name)
	if err != nil {
		return err
	}

	now := r.clock.Now()
	rec.refresh(now)
	rec.SuccessCount++
	rec.RPMUsed++
	rec.RPDUsed++
	rec.TotalLatencyMs += latency.Milliseconds()
	rec.ConsecutiveErrors = 0
	rec.CooldownUntil = nil
	rec.LastUsedAt = &now

	if err := r.store.SaveProvider(ctx, rec); err != nil {
		return fmt.Errorf("failed to save provider %s: %w", name, err)
	}
	r.observer.ObserveProviderCall(name, "success", latency)
	return nil
}

// RecordFailure counts a failed call. A rate-limited failure also puts the
// provider into cooldown for min(5, 1+streak) minutes and forces its minute
// counter over the limit. It returns the cooldown applied, if any.
func (r *Registry) RecordFailure(ctx context.Context, name string, cause error, rateLimited bool) (time.Duration, error) {
	rec, err := r.find(ctx, name)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now()
	rec.refresh(now)
	rec.ErrorCount++
	rec.RPMUsed++
	rec.RPDUsed++
	rec.LastUsedAt = &now
	if cause != nil {
		rec.LastError = truncate(cause.Error(), maxLastErrorLength)
	}

	var cooldown time.Duration
	if rateLimited {
		minutes := 1 + rec.ConsecutiveErrors
		if minutes > maxCooldownMinutes {
			minutes = maxCooldownMinutes
		}
		cooldown = time.Duration(minutes) * time.Minute
		until := now.Add(cooldown)
		rec.CooldownUntil = &until
		rec.RPMUsed = rec.RPMLimit + 1
		rec.RPMWindowStart = now
	}
	rec.ConsecutiveErrors++

	if err := r.store.SaveProvider(ctx, rec); err != nil {
		return 0, fmt.Errorf("failed to save provider %s: %w", name, err)
	}

	outcome := "error"
	if rateLimited {
		outcome = "rate_limited"
		r.observer.ObserveCooldown(name, cooldown)
		r.logger.Warn("Provider rate limited, cooling down",
			"provider", name, "cooldown", cooldown.String(), "streak", rec.ConsecutiveErrors)
	}
	r.observer.ObserveProviderCall(name, outcome, 0)
	return cooldown, nil
}

// Capacity refreshes state and reports which providers have daily quota, no
// active cooldown and a valid credential. When none do, NextAvailableAt is the
// earliest cooldown expiry, or the next UTC midnight.
func (r *Registry) Capacity(ctx context.Context) (*Capacity, error) {
	records, err := r.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()

	capacity := &Capacity{Usable: []string{}}
	var earliest *time.Time
	for _, rec := range Order(records) {
		spec, ok := r.selector.Spec(rec.Name)
		if !ok {
			continue
		}
		cred, found := r.selector.creds.Credential(ctx, spec.CredentialKey)
		if !found || !ValidCredential(cred) || rec.DailyBudgetSpent() {
			continue
		}
		if rec.InCooldown(now) {
			if earliest == nil || rec.CooldownUntil.Before(*earliest) {
				t := *rec.CooldownUntil
				earliest = &t
			}
			continue
		}
		capacity.Usable = append(capacity.Usable, rec.Name)
	}

	if !capacity.Available() {
		if earliest == nil {
			midnight := nextUTCMidnight(now)
			earliest = &midnight
		}
		capacity.NextAvailableAt = earliest
	}
	return capacity, nil
}

// List returns every record with display details
func (r *Registry) List(ctx context.Context) ([]Status, error) {
	records, err := r.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()

	out := make([]Status, 0, len(records))
	for _, rec := range records {
		st := Status{
			Record:       rec,
			AvgLatencyMs: rec.AverageLatency().Milliseconds(),
			SuccessRate:  rec.SuccessRate(),
		}
		if spec, ok := r.selector.Spec(rec.Name); ok {
			st.Protocol = spec.Protocol
			st.Model = spec.Model
			st.FastModel = spec.FastModel
			cred, found := r.selector.creds.Credential(ctx, spec.CredentialKey)
			st.HasCredential = found && ValidCredential(cred)
		}
		_, st.SkipReason = r.selector.Usable(ctx, rec, now)
		st.Available = st.SkipReason == ""
		out = append(out, st)
	}
	return out, nil
}

// Get returns one provider's record and its resolved credential for a direct
// call, ignoring budgets
func (r *Registry) Get(ctx context.Context, name string) (*Choice, error) {
	spec, ok := r.selector.Spec(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	rec, err := r.find(ctx, name)
	if err != nil {
		return nil, err
	}
	cred, _ := r.selector.creds.Credential(ctx, spec.CredentialKey)
	return &Choice{Record: *rec, Spec: spec, Credential: cred}, nil
}

// ValidateCredential resolves and checks a provider's credential
func (r *Registry) ValidateCredential(ctx context.Context, name string) (bool, error) {
	spec, ok := r.selector.Spec(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	cred, found := r.selector.creds.Credential(ctx, spec.CredentialKey)
	return found && ValidCredential(cred), nil
}

// SetEnabled toggles a provider
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) (*Record, error) {
	rec, err := r.find(ctx, name)
	if err != nil {
		return nil, err
	}
	rec.Enabled = enabled
	if err := r.store.SaveProvider(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save provider %s: %w", name, err)
	}
	r.logger.Info("Provider toggled", "provider", name, "enabled", enabled)
	return rec, nil
}

// ResetDailyLimits clears usage counters, cooldowns and error streaks of
// every provider
func (r *Registry) ResetDailyLimits(ctx context.Context) (int, error) {
	records, err := r.store.ListProviders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list providers: %w", err)
	}

	now := r.clock.Now()
	for i := range records {
		rec := &records[i]
		rec.RPMUsed = 0
		rec.RPMWindowStart = now
		rec.RPDUsed = 0
		rec.RPDResetAt = now
		rec.CooldownUntil = nil
		rec.ConsecutiveErrors = 0
		if err := r.store.SaveProvider(ctx, rec); err != nil {
			return i, fmt.Errorf("failed to save provider %s: %w", rec.Name, err)
		}
	}
	r.logger.Info("Daily limits reset", "providers", len(records))
	return len(records), nil
}

func (r *Registry) find(ctx context.Context, name string) (*Record, error) {
	records, err := r.store.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	for i := range records {
		if records[i].Name == name {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// truncate cuts s to at most n bytes on a rune boundary
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
