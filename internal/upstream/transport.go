package upstream

import (
	"net"
	"net/http"
	"time"

	"github.com/leslieo2/prononciation-gateway/internal/config"
)

// NewTransport maps a phased budget onto the knobs http.Transport has.
// Connect bounds dialing and the TLS handshake; Read bounds the wait for
// response headers once the request is written. Write and pool wait have no
// transport setting and are covered by the per-call deadline (see Deadline).
func NewTransport(budget config.TimeoutConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   budget.Connect,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   budget.Connect,
		ResponseHeaderTimeout: budget.Read,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
}

// NewHTTPClient returns a client that does not follow redirects; a 3xx is
// reported like any other non-2xx answer.
func NewHTTPClient(budget config.TimeoutConfig) *http.Client {
	return &http.Client{
		Transport: NewTransport(budget),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Deadline is the ceiling for one call, every phase included.
func Deadline(budget config.TimeoutConfig) time.Duration {
	return budget.Total()
}
