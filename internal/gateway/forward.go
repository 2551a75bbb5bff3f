package gateway

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Forwarder issues the upstream request and returns the response verbatim,
// including non-200 statuses, so a 429 keeps its meaning end to end.
type Forwarder struct {
	client *http.Client
	lb     *LoadBalancer
}

// NewForwarder creates a Forwarder over a LoadBalancer's upstream pool.
func NewForwarder(lb *LoadBalancer, timeout time.Duration) *Forwarder {
	return &Forwarder{client: &http.Client{Timeout: timeout}, lb: lb}
}

// ForwardResult carries the upstream's verbatim response.
type ForwardResult struct {
	StatusCode int
	Body       []byte
	Upstream   string
}

// Forward picks an upstream, relays the request, and records latency for
// the adaptive strategy's scoring. ctx carries the inbound request's
// cancellation, so a client disconnect cancels the upstream call.
func (f *Forwarder) Forward(ctx context.Context, method, path string, body io.Reader) (ForwardResult, error) {
	upstream := f.lb.Pick()
	f.lb.Begin(upstream)
	start := time.Now()
	defer func() { f.lb.End(upstream, time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+upstream+path, body)
	if err != nil {
		return ForwardResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return ForwardResult{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ForwardResult{}, err
	}
	return ForwardResult{StatusCode: resp.StatusCode, Body: respBody, Upstream: upstream}, nil
}
