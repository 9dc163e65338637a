package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwarder_Forward(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantSuccess bool
		wantStatus  int
		wantUpEcho  int
		wantBody    string
		wantOutcome string
	}{
		{
			name: "2xx keeps upstream status and body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusCreated)
				_, _ = io.WriteString(w, `{"langues":["fr","en"],"score":92.50}`)
			},
			wantSuccess: true,
			wantStatus:  http.StatusCreated,
			wantUpEcho:  http.StatusCreated,
			wantBody:    `{"langues":["fr","en"],"score":92.50}`,
			wantOutcome: OutcomeSuccess,
		},
		{
			name: "2xx non JSON becomes excerpt",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "<html>hello</html>")
			},
			wantSuccess: true,
			wantStatus:  http.StatusOK,
			wantUpEcho:  http.StatusOK,
			wantBody:    `{"non_json":true,"text":"<html>hello</html>"}`,
			wantOutcome: OutcomeSuccess,
		},
		{
			name: "non-2xx maps to 502 with upstream status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"detail":"Not Found"}`)
			},
			wantStatus:  http.StatusBadGateway,
			wantUpEcho:  http.StatusNotFound,
			wantBody:    `{"status":"error","upstream_status":404,"data":{"detail":"Not Found"}}`,
			wantOutcome: OutcomeUpstreamError,
		},
		{
			name: "non-2xx non JSON keeps placeholder",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, "waking up")
			},
			wantStatus:  http.StatusBadGateway,
			wantUpEcho:  http.StatusServiceUnavailable,
			wantBody:    `{"status":"error","upstream_status":503,"data":{"non_json":true,"text":"waking up"}}`,
			wantOutcome: OutcomeUpstreamError,
		},
		{
			name: "redirect is not followed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/elsewhere", http.StatusFound)
			},
			wantStatus:  http.StatusBadGateway,
			wantUpEcho:  http.StatusFound,
			wantOutcome: OutcomeUpstreamError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(tt.handler)
			defer upstream.Close()

			rec := &fakeRecorder{}
			f := NewForwarder(testConfig(upstream.URL), WithRecorder(rec))
			env := f.Forward(context.Background(), Request{Method: http.MethodGet, Path: "/langues-supportees"})

			assert.Equal(t, tt.wantSuccess, env.Success)
			assert.Equal(t, tt.wantStatus, env.StatusCode)
			assert.Equal(t, tt.wantUpEcho, env.UpstreamStatus)
			assert.NoError(t, env.Err)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, toJSON(t, env.Body))
			}
			require.Len(t, rec.calls, 1)
			assert.Equal(t, call{path: "/langues-supportees", outcome: tt.wantOutcome, status: tt.wantUpEcho}, rec.calls[0])
		})
	}
}

func TestForwarder_NumbersAreNotRewritten(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":12345678901234567890,"ratio":0.10}`)
	}))
	defer upstream.Close()

	env := NewForwarder(testConfig(upstream.URL)).Forward(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	assert.Equal(t, `{"id":12345678901234567890,"ratio":0.10}`, toJSON(t, env.Body))
}

func TestForwarder_RouteLabel(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = io.WriteString(w, `{}`)
	}))
	defer upstream.Close()

	rec := &fakeRecorder{}
	f := NewForwarder(testConfig(upstream.URL), WithRecorder(rec))
	env := f.Forward(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/exercice/fran%C3%A7ais",
		Route:  "/exercice/{langue}",
	})

	assert.True(t, env.Success)
	assert.Equal(t, "/exercice/fran%C3%A7ais", gotPath)
	assert.Equal(t, []call{{path: "/exercice/{langue}", outcome: OutcomeSuccess, status: http.StatusOK}}, rec.calls)
}

func TestForwarder_Unreachable(t *testing.T) {
	rec := &fakeRecorder{}
	f := NewForwarder(testConfig(closedURL(t)), WithRecorder(rec))

	env := f.Forward(context.Background(), Request{Method: http.MethodGet, Path: "/langues-supportees"})

	assert.False(t, env.Success)
	assert.Equal(t, http.StatusBadGateway, env.StatusCode)
	assert.Zero(t, env.UpstreamStatus)
	require.Error(t, env.Err)

	body, ok := env.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Test API unreachable", body["message"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, []call{{path: "/langues-supportees", outcome: OutcomeUnreachable}}, rec.calls)
}

func TestForwarder_ReadTimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()
	defer close(release)

	start := time.Now()
	env := NewForwarder(testConfig(upstream.URL)).Forward(context.Background(), Request{Method: http.MethodGet, Path: "/score"})

	assert.Equal(t, http.StatusBadGateway, env.StatusCode)
	assert.Error(t, env.Err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestForwarder_RequestShape(t *testing.T) {
	var got *http.Request
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer upstream.Close()

	header := http.Header{}
	header.Set("X-Request-Id", "req-1")
	header.Set("Connection", "close")

	f := NewForwarder(testConfig(upstream.URL + "/"))
	env := f.Forward(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/ajouter-phrase",
		Form:   []Field{{"langue", "fr"}, {"phrase", "Salut"}},
		Header: header,
	})
	require.True(t, env.Success)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/ajouter-phrase", got.URL.Path)
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, "application/x-www-form-urlencoded", got.Header.Get("Content-Type"))
	assert.Equal(t, "req-1", got.Header.Get("X-Request-Id"))
	assert.Equal(t, "langue=fr&phrase=Salut", gotBody)
}

func TestForwarder_EscapedPathSurvives(t *testing.T) {
	var rawPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
		_, _ = io.WriteString(w, `{"langue":"ok"}`)
	}))
	defer upstream.Close()

	env := NewForwarder(testConfig(upstream.URL)).Forward(context.Background(),
		Request{Method: http.MethodGet, Path: "/exercice/fr%2FCA%20x"})

	assert.True(t, env.Success)
	assert.Equal(t, "/exercice/fr%2FCA%20x", rawPath)
}

func TestForwarder_MultipartUpload(t *testing.T) {
	type seen struct {
		texte, accent      string
		filename, ctype    string
		data               string
		langueCiblePresent bool
	}
	var s seen
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.texte = r.FormValue("texte_cible")
		s.accent = r.FormValue("accent")
		_, s.langueCiblePresent = r.MultipartForm.Value["langue_cible"]
		file, fh, err := r.FormFile("fichier")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		s.data = string(data)
		s.filename = fh.Filename
		s.ctype = fh.Header.Get("Content-Type")
		_, _ = io.WriteString(w, `{"score":80}`)
	}))
	defer upstream.Close()

	env := NewForwarder(testConfig(upstream.URL)).Forward(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/analyse-prononciation",
		Form:   []Field{{"texte_cible", "bonjour"}, {"accent", "quebecois"}},
		Files:  []File{{Field: "fichier", Data: []byte("audio-bytes")}},
	})

	require.True(t, env.Success)
	assert.Equal(t, "bonjour", s.texte)
	assert.Equal(t, "quebecois", s.accent)
	assert.False(t, s.langueCiblePresent)
	assert.Equal(t, "audio.bin", s.filename)
	assert.Equal(t, "application/octet-stream", s.ctype)
	assert.Equal(t, "audio-bytes", s.data)
}

func TestForwarder_ResponseSizeCap(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"blob":"`+strings.Repeat("a", 2048)+`"}`)
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.MaxResponseSize = 1024
	env := NewForwarder(cfg).Forward(context.Background(), Request{Method: http.MethodGet, Path: "/"})

	require.True(t, env.Success)
	body, ok := env.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["non_json"])
	assert.Len(t, body["text"], 400)
}

func TestForwarder_CallerCancellation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := NewForwarder(testConfig(upstream.URL)).Forward(ctx, Request{Method: http.MethodGet, Path: "/"})
	assert.Equal(t, http.StatusBadGateway, env.StatusCode)
	assert.ErrorIs(t, env.Err, context.Canceled)
}
