package vault

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"market-signal-engine/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const realKey = "gsk_live_abcdefghijklmnopqrstuvwxyz0123"

func TestMockClient_StoreAndResolve(t *testing.T) {
	c := NewMockClient()
	ctx := context.Background()

	_, ok := c.Credential(ctx, "GROQ_API_KEY")
	assert.False(t, ok)

	require.NoError(t, c.StoreCredential(ctx, "GROQ_API_KEY", realKey))
	v, ok := c.Credential(ctx, "GROQ_API_KEY")
	require.True(t, ok)
	assert.Equal(t, realKey, v)

	require.NoError(t, c.DeleteCredential(ctx, "GROQ_API_KEY"))
	_, ok = c.Credential(ctx, "GROQ_API_KEY")
	assert.False(t, ok)

	assert.Error(t, c.StoreCredential(ctx, " ", realKey))
}

func TestClient_ReadsKVv2AndCaches(t *testing.T) {
	var reads int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/secret/data/signal-engine/ai-providers/GROQ_API_KEY":
			atomic.AddInt32(&reads, 1)
			assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":{"data":{"value":"` + realKey + `"},"metadata":{"version":1}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, err := NewClient(config.VaultConfig{
		Enabled:    true,
		Address:    server.URL,
		Token:      "root-token",
		MountPath:  "secret",
		SecretPath: "signal-engine/ai-providers",
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, ok := c.Credential(context.Background(), "GROQ_API_KEY")
		require.True(t, ok)
		assert.Equal(t, realKey, v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&reads))

	_, ok := c.Credential(context.Background(), "MISSING_KEY")
	assert.False(t, ok)
}

func TestClient_Health(t *testing.T) {
	var sealed atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sys/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if sealed.Load() {
			w.Write([]byte(`{"initialized":true,"sealed":true,"standby":false}`))
			return
		}
		w.Write([]byte(`{"initialized":true,"sealed":false,"standby":false}`))
	}))
	defer server.Close()

	c, err := NewClient(config.VaultConfig{Enabled: true, Address: server.URL, Token: "root-token"})
	require.NoError(t, err)

	assert.NoError(t, c.Health(context.Background()))

	sealed.Store(true)
	assert.Error(t, c.Health(context.Background()))

	assert.NoError(t, NewMockClient().Health(context.Background()))
}
