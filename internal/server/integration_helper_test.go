package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leslieo2/prononciation-gateway/internal/config"
	"github.com/leslieo2/prononciation-gateway/internal/observability"
)

// testConfig returns a config aimed at upstreamURL with short timeouts.
func testConfig(upstreamURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Upstream.Label = "Test API"
	fast := config.TimeoutConfig{
		Connect: 500 * time.Millisecond,
		Read:    300 * time.Millisecond,
		Write:   500 * time.Millisecond,
		Pool:    500 * time.Millisecond,
	}
	cfg.Upstream.Forward = fast
	cfg.Upstream.Probe = fast
	return cfg
}

// newGateway builds a Server and serves its handler without the lifecycle.
func newGateway(t *testing.T, cfg *config.Config, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithLogger(observability.NewNopLogger())}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(context.Background())
	})
	return s, ts
}

// recordedRequest is what the stub upstream saw.
type recordedRequest struct {
	Method      string
	Path        string
	RawPath     string
	RequestID   string
	ContentType string
	Form        map[string][]string
	Files       map[string]recordedFile
}

type recordedFile struct {
	Filename    string
	ContentType string
	Data        string
}

// stubUpstream records requests and answers with per-path handlers.
type stubUpstream struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newStubUpstream(t *testing.T, routes map[string]http.HandlerFunc) *stubUpstream {
	t.Helper()
	stub := &stubUpstream{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.record(r)
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Not Found"}`)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *stubUpstream) record(r *http.Request) {
	rec := recordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		RawPath:     r.URL.EscapedPath(),
		RequestID:   r.Header.Get("X-Request-Id"),
		ContentType: r.Header.Get("Content-Type"),
	}

	mediaType, _, _ := mime.ParseMediaType(rec.ContentType)
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			rec.Form = r.MultipartForm.Value
			rec.Files = map[string]recordedFile{}
			for field, headers := range r.MultipartForm.File {
				rec.Files[field] = readRecordedFile(headers[0])
			}
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err == nil {
			rec.Form = r.PostForm
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()
}

func readRecordedFile(h *multipart.FileHeader) recordedFile {
	f, err := h.Open()
	if err != nil {
		return recordedFile{}
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	return recordedFile{
		Filename:    h.Filename,
		ContentType: h.Header.Get("Content-Type"),
		Data:        string(data),
	}
}

func (s *stubUpstream) received() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// closedURL returns the address of a server that no longer listens.
func closedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

// runningServer is a Server started through Start.
type runningServer struct {
	server  *Server
	baseURL string
	cancel  context.CancelFunc
	done    chan error
}

// startTestServer runs the full lifecycle on dynamic ports. TLS
// certificates are generated when TLS is enabled without files.
func startTestServer(t *testing.T, cfg *config.Config) *runningServer {
	t.Helper()

	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			certFile, keyFile, err := generateTestCertificates(t.TempDir())
			require.NoError(t, err)
			cfg.TLS.CertFile = certFile
			cfg.TLS.KeyFile = keyFile
		}
	}

	s, err := New(cfg, WithLogger(observability.NewNopLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}

	rs := &runningServer{server: s, baseURL: scheme + "://" + s.Addr(), cancel: cancel, done: done}
	t.Cleanup(func() { _ = rs.stop() })
	return rs
}

// stop cancels the server and returns the result of Start.
func (rs *runningServer) stop() error {
	rs.cancel()
	select {
	case err, ok := <-rs.done:
		if !ok {
			return nil
		}
		close(rs.done)
		return err
	case <-time.After(5 * time.Second):
		return context.DeadlineExceeded
	}
}

func insecureClient() *http.Client {
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
	}
}

func generateTestCertificates(tmpDir string) (string, string, error) {
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privKey.PublicKey, privKey)
	if err != nil {
		return "", "", err
	}

	certFile := filepath.Join(tmpDir, "test-cert.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		return "", "", err
	}

	privKeyBytes, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return "", "", err
	}
	keyFile := filepath.Join(tmpDir, "test-key.pem")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privKeyBytes})
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return "", "", err
	}

	return certFile, keyFile, nil
}
