package client

import (
	"net/http"
	"strconv"
	"time"
)

const userAgent = "wowmeta-aggregator/1.0"

// newHTTPClient returns a client with the pooled transport shared by all
// upstream clients
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// statusLabel is the metrics label for an HTTP status
func statusLabel(code int) string {
	return strconv.Itoa(code)
}
