package exchange

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient builds the HTTP client the signed clients share: connect 5s,
// response header 30s, write/TLS 10s. A request exceeding these surfaces as
// a TransportError and is never retried here; retry policy belongs to the
// job layer. Connection reuse comes from the transport's idle pool.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       100 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   45 * time.Second,
	}
}
