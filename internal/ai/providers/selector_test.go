package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodKey = "gsk_9f8e7d6c5b4a39281706abcdef"

func testSpecs() []Spec {
	return []Spec{
		{Name: "alpha", Protocol: ProtocolChat, Model: "a-large", CredentialKey: "ALPHA_KEY", Priority: 1, RPMLimit: 30, RPDLimit: 1000, Enabled: true},
		{Name: "beta", Protocol: ProtocolChat, Model: "b-large", CredentialKey: "BETA_KEY", Priority: 2, RPMLimit: 30, RPDLimit: 1000, Enabled: true},
		{Name: "gamma", Protocol: ProtocolGenerative, Model: "g-pro", CredentialKey: "GAMMA_KEY", Priority: 3, RPMLimit: 15, RPDLimit: 500, Enabled: true},
	}
}

func testCreds() StaticResolver {
	return StaticResolver{
		"ALPHA_KEY": goodKey,
		"BETA_KEY":  goodKey,
		"GAMMA_KEY": goodKey,
	}
}

func testRecords(now time.Time) []Record {
	var out []Record
	for _, s := range testSpecs() {
		out = append(out, NewRecord(s, now))
	}
	return out
}

func TestValidCredential(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"real key", goodKey, true},
		{"empty", "", false},
		{"too short", "abc123", false},
		{"nineteen chars", "abcdefghijklmnopqrs", false},
		{"twenty chars", "abcdefghijklmnopqrst", true},
		{"your_ marker", "your_api_key_goes_here_please", false},
		{"your- marker", "your-groq-key-here-0000000", false},
		{"placeholder", "PLACEHOLDER_KEY_VALUE_123456", false},
		{"changeme", "changeme-changeme-changeme", false},
		{"test_key", "test_key_1234567890123456", false},
		{"xxxx", "sk-or-v1-xxxxxxxxxxxxxxxxxxxx", false},
		{"sk-test", "sk-test-12345678901234567890", false},
		{"dummy", "dummy-token-1234567890123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidCredential(tt.value))
		})
	}
}

func TestOrder_RemainingQuotaThenPriority(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := testRecords(now)
	records[0].RPDUsed = 400 // alpha: 600 left
	records[1].RPDUsed = 100 // beta: 900 left
	records[2].Enabled = false

	ordered := Order(records)
	require.Len(t, ordered, 2)
	assert.Equal(t, "beta", ordered[0].Name)
	assert.Equal(t, "alpha", ordered[1].Name)

	records[1].RPDUsed = 400
	ordered = Order(records)
	assert.Equal(t, "alpha", ordered[0].Name, "equal quota falls back to priority")
}

func TestSelect_SkipsUnusableProviders(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * time.Second)

	tests := []struct {
		name   string
		mutate func(r []Record)
		creds  StaticResolver
		want   string
		ok     bool
	}{
		{
			name:   "all usable picks highest remaining",
			mutate: func(r []Record) {},
			want:   "alpha",
			ok:     true,
		},
		{
			name:   "cooldown in the future is skipped",
			mutate: func(r []Record) { r[0].CooldownUntil = &future },
			want:   "beta",
			ok:     true,
		},
		{
			name:   "minute budget spent is skipped",
			mutate: func(r []Record) { r[0].RPMUsed = 30 },
			want:   "beta",
			ok:     true,
		},
		{
			name: "one percent daily reserve is kept",
			mutate: func(r []Record) {
				r[0].RPDLimit = 2000
				r[0].RPDUsed = 1985 // 15 left but inside the reserve
				r[1].RPDUsed = 989  // 11 left
				r[2].Enabled = false
			},
			want: "beta",
			ok:   true,
		},
		{
			name:   "placeholder credential is skipped",
			mutate: func(r []Record) {},
			creds:  StaticResolver{"ALPHA_KEY": "your_key_here_000000000", "BETA_KEY": goodKey},
			want:   "beta",
			ok:     true,
		},
		{
			name:   "missing credential everywhere",
			mutate: func(r []Record) {},
			creds:  StaticResolver{},
			ok:     false,
		},
		{
			name: "everything disabled",
			mutate: func(r []Record) {
				for i := range r {
					r[i].Enabled = false
				}
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := testRecords(now)
			tt.mutate(records)
			creds := tt.creds
			if creds == nil {
				creds = testCreds()
			}

			choice, ok := NewSelector(testSpecs(), creds).Select(ctx, records, now, nil)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				require.NotNil(t, choice)
				assert.Equal(t, tt.want, choice.Record.Name)
				assert.Equal(t, goodKey, choice.Credential)
			}
		})
	}
}

func TestSelect_Exclude(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sel := NewSelector(testSpecs(), testCreds())

	choice, ok := sel.Select(context.Background(), testRecords(now), now, map[string]bool{"alpha": true, "beta": true})
	require.True(t, ok)
	assert.Equal(t, "gamma", choice.Record.Name)
}

func TestSelect_NeverReturnsCoolingOrSpent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sel := NewSelector(testSpecs(), testCreds())

	for used := 0; used <= 40; used += 5 {
		records := testRecords(now)
		for i := range records {
			records[i].RPMUsed = used
		}
		until := now.Add(time.Minute)
		records[2].CooldownUntil = &until

		choice, ok := sel.Select(ctx, records, now, nil)
		if !ok {
			continue
		}
		assert.NotEqual(t, "gamma", choice.Record.Name)
		assert.Less(t, choice.Record.RPMUsed, choice.Record.RPMLimit)
	}
}

func TestChainResolver_FirstHitWins(t *testing.T) {
	chain := ChainResolver{
		StaticResolver{"A": ""},
		nil,
		StaticResolver{"A": goodKey, "B": "second"},
	}
	v, ok := chain.Credential(context.Background(), "A")
	require.True(t, ok)
	assert.Equal(t, goodKey, v)

	_, ok = chain.Credential(context.Background(), "C")
	assert.False(t, ok)
}
