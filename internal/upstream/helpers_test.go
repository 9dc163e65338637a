package upstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leslieo2/prononciation-gateway/internal/config"
)

func testConfig(baseURL string) config.UpstreamConfig {
	cfg := config.DefaultUpstreamConfig()
	cfg.BaseURL = baseURL
	cfg.Label = "Test API"
	fast := config.TimeoutConfig{
		Connect: 500 * time.Millisecond,
		Read:    300 * time.Millisecond,
		Write:   500 * time.Millisecond,
		Pool:    500 * time.Millisecond,
	}
	cfg.Forward = fast
	cfg.Probe = fast
	return cfg
}

// closedURL returns the address of a server that no longer listens.
func closedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

type call struct {
	path    string
	outcome string
	status  int
}

type fakeRecorder struct {
	mu       sync.Mutex
	calls    []call
	liveness []string
}

func (r *fakeRecorder) RecordUpstreamCall(path, outcome string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{path: path, outcome: outcome, status: status})
}

func (r *fakeRecorder) RecordLiveness(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liveness = append(r.liveness, outcome)
}
