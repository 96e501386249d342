package httpx

import (
	"crypto/tls"
	"net"
	"net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/r2browser/r2browser/internal/constants"
)

// NewPooledClient creates the HTTP client shared by all provider
// operations. One client per endpoint keeps the connection pool warm
// across credential changes and concurrent transfers.
//
// Key settings:
//   - Large per-host pool for concurrent object streams
//   - Extended timeouts sized for large bodies
//   - Disabled compression (object payloads are usually incompressible)
//   - HTTP/2 with a runtime toggle (DISABLE_HTTP2=true forces HTTP/1.1)
//   - No overall client timeout; callers set per-operation deadlines
func NewPooledClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}

	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	return &http.Client{
		Transport: tr,
		Timeout:   0,
	}
}
