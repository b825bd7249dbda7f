package providers

import (
	"context"
	"sort"
	"time"
)

// SkipReason explains why the selector passed over a provider
type SkipReason string

const (
	SkipDisabled     SkipReason = "disabled"
	SkipExcluded     SkipReason = "already_tried"
	SkipCooldown     SkipReason = "cooldown"
	SkipMinuteBudget SkipReason = "rpm_exhausted"
	SkipDailyBudget  SkipReason = "rpd_exhausted"
	SkipCredential   SkipReason = "invalid_credential"
	SkipUnknownSpec  SkipReason = "not_configured"
)

// Choice is a provider ready to be called
type Choice struct {
	Record     Record
	Spec       Spec
	Credential string
}

// Selector picks the next usable provider from a set of records
type Selector struct {
	specs map[string]Spec
	creds CredentialResolver
}

// NewSelector creates a selector over the given provider catalogue
func NewSelector(specs []Spec, creds CredentialResolver) *Selector {
	byName := make(map[string]Spec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	if creds == nil {
		creds = EnvResolver{}
	}
	return &Selector{specs: byName, creds: creds}
}

// Order returns the enabled records sorted by remaining daily quota
// (descending) with priority as tie-break
func Order(records []Record) []Record {
	enabled := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		ri, rj := enabled[i].RemainingDaily(), enabled[j].RemainingDaily()
		if ri != rj {
			return ri > rj
		}
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled
}

// Usable reports whether a single record can be called at now, and if not, why
func (s *Selector) Usable(ctx context.Context, r Record, now time.Time) (string, SkipReason) {
	if !r.Enabled {
		return "", SkipDisabled
	}
	spec, ok := s.specs[r.Name]
	if !ok {
		return "", SkipUnknownSpec
	}
	if r.InCooldown(now) {
		return "", SkipCooldown
	}
	if r.MinuteBudgetSpent() {
		return "", SkipMinuteBudget
	}
	if r.DailyBudgetSpent() {
		return "", SkipDailyBudget
	}
	cred, ok := s.creds.Credential(ctx, spec.CredentialKey)
	if !ok || !ValidCredential(cred) {
		return "", SkipCredential
	}
	return cred, ""
}

// Select walks the ordered records and returns the first usable provider that
// is not in exclude
func (s *Selector) Select(ctx context.Context, records []Record, now time.Time, exclude map[string]bool) (*Choice, bool) {
	for _, r := range Order(records) {
		if exclude[r.Name] {
			continue
		}
		cred, reason := s.Usable(ctx, r, now)
		if reason != "" {
			continue
		}
		return &Choice{Record: r, Spec: s.specs[r.Name], Credential: cred}, true
	}
	return nil, false
}

// Spec returns the catalogue entry for name
func (s *Selector) Spec(name string) (Spec, bool) {
	spec, ok := s.specs[name]
	return spec, ok
}
