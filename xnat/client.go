package xnat

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gojektech/heimdall/v6/httpclient"
	"go.uber.org/zap"
)

// NewHTTPClient returns the heimdall client used for every call to the
// server. Retries are left to the retry driver, so the client itself never
// retries. Certificate validation is disabled when insecure is set because
// deployments run against an internally trusted endpoint.
func NewHTTPClient(timeout time.Duration, insecure bool, logger *zap.Logger) *httpclient.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}

	client := httpclient.NewClient(
		httpclient.WithHTTPClient(&http.Client{Transport: tr, Timeout: timeout}),
		httpclient.WithRetryCount(0),
	)
	client.AddPlugin(NewRequestLogger(logger))
	return client
}
