package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

// Upstream is one address the Gateway can forward to; cmd/gateway builds
// one per --coordinators entry.
type Upstream struct {
	Addr   string
	Weight int // used only by the weighted strategy
}

// upstreamStats is the Gateway's own observation of an upstream, never
// queried from the upstream itself.
type upstreamStats struct {
	active       atomic.Int64
	mu           sync.Mutex
	avgLatencyMS float64
}

// Strategy selects the next upstream to forward a request to.
type Strategy interface {
	Next(stats map[string]*upstreamStats) string
}

// LoadBalancer tracks per-upstream stats and delegates selection to a
// Strategy.
type LoadBalancer struct {
	mu        sync.RWMutex
	upstreams []Upstream
	stats     map[string]*upstreamStats
	strategy  Strategy
}

// NewLoadBalancer creates a LoadBalancer over the given upstreams using
// strategy.
func NewLoadBalancer(upstreams []Upstream, strategy Strategy) *LoadBalancer {
	stats := make(map[string]*upstreamStats, len(upstreams))
	for _, u := range upstreams {
		stats[u.Addr] = &upstreamStats{}
	}
	return &LoadBalancer{upstreams: upstreams, stats: stats, strategy: strategy}
}

// Pick returns the next upstream address to forward to.
func (lb *LoadBalancer) Pick() string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.strategy.Next(lb.stats)
}

// Begin marks the start of a request to addr, for active-request tracking.
func (lb *LoadBalancer) Begin(addr string) {
	lb.mu.RLock()
	s, ok := lb.stats[addr]
	lb.mu.RUnlock()
	if ok {
		s.active.Add(1)
	}
}

// End marks the end of a request to addr and folds its latency into the
// rolling average the adaptive strategy scores on.
func (lb *LoadBalancer) End(addr string, latency time.Duration) {
	lb.mu.RLock()
	s, ok := lb.stats[addr]
	lb.mu.RUnlock()
	if !ok {
		return
	}
	s.active.Add(-1)

	s.mu.Lock()
	defer s.mu.Unlock()
	const alpha = 0.2 // exponential moving average weight
	ms := float64(latency.Milliseconds())
	if s.avgLatencyMS == 0 {
		s.avgLatencyMS = ms
	} else {
		s.avgLatencyMS = alpha*ms + (1-alpha)*s.avgLatencyMS
	}
}

// RoundRobin cycles through upstreams in order.
type RoundRobin struct {
	upstreams []string
	counter   atomic.Uint64
}

// NewRoundRobin creates a RoundRobin strategy over addrs.
func NewRoundRobin(addrs []string) *RoundRobin {
	return &RoundRobin{upstreams: addrs}
}

func (rr *RoundRobin) Next(stats map[string]*upstreamStats) string {
	if len(rr.upstreams) == 0 {
		return ""
	}
	i := rr.counter.Add(1) - 1
	return rr.upstreams[i%uint64(len(rr.upstreams))]
}

// Adaptive picks the upstream minimizing active_requests + k*avg_latency_ms,
// breaking ties by round-robin.
type Adaptive struct {
	upstreams []string
	k         float64
	tiebreak  *RoundRobin
}

// NewAdaptive creates an Adaptive strategy with weight k on latency.
func NewAdaptive(addrs []string, k float64) *Adaptive {
	return &Adaptive{upstreams: addrs, k: k, tiebreak: NewRoundRobin(addrs)}
}

func (a *Adaptive) Next(stats map[string]*upstreamStats) string {
	if len(a.upstreams) == 0 {
		return ""
	}
	best := ""
	bestScore := -1.0
	var tied []string
	for _, addr := range a.upstreams {
		s := stats[addr]
		score := 0.0
		if s != nil {
			s.mu.Lock()
			score = float64(s.active.Load()) + a.k*s.avgLatencyMS
			s.mu.Unlock()
		}
		switch {
		case bestScore < 0 || score < bestScore:
			bestScore = score
			best = addr
			tied = []string{addr}
		case score == bestScore:
			tied = append(tied, addr)
		}
	}
	if len(tied) > 1 {
		i := a.tiebreak.counter.Add(1) - 1
		return tied[i%uint64(len(tied))]
	}
	return best
}

// Weighted selects upstreams proportional to a static capacity weight.
type Weighted struct {
	upstreams []Upstream
	counter   atomic.Uint64
	total     int
}

// NewWeighted creates a Weighted strategy. Upstreams with Weight <= 0 are
// treated as weight 1.
func NewWeighted(upstreams []Upstream) *Weighted {
	total := 0
	normalized := make([]Upstream, len(upstreams))
	for i, u := range upstreams {
		if u.Weight <= 0 {
			u.Weight = 1
		}
		normalized[i] = u
		total += u.Weight
	}
	return &Weighted{upstreams: normalized, total: total}
}

func (w *Weighted) Next(stats map[string]*upstreamStats) string {
	if w.total == 0 {
		return ""
	}
	n := w.counter.Add(1) - 1
	target := int(n % uint64(w.total))
	for _, u := range w.upstreams {
		if target < u.Weight {
			return u.Addr
		}
		target -= u.Weight
	}
	return w.upstreams[len(w.upstreams)-1].Addr
}
