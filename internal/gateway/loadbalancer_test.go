package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundRobinCyclesInOrder(t *testing.T) {
	addrs := []string{"a", "b", "c"}
	lb := NewLoadBalancer(toUpstreams(addrs), NewRoundRobin(addrs))

	var picked []string
	for i := 0; i < 6; i++ {
		picked = append(picked, lb.Pick())
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picked)
}

func TestAdaptivePrefersLeastLoaded(t *testing.T) {
	addrs := []string{"a", "b"}
	lb := NewLoadBalancer(toUpstreams(addrs), NewAdaptive(addrs, 1))

	lb.Begin("a")
	lb.Begin("a")
	lb.Begin("b")

	assert.Equal(t, "b", lb.Pick())
}

func TestAdaptiveIncorporatesLatency(t *testing.T) {
	addrs := []string{"a", "b"}
	lb := NewLoadBalancer(toUpstreams(addrs), NewAdaptive(addrs, 1))

	lb.Begin("a")
	lb.End("a", 200*time.Millisecond)
	lb.Begin("b")
	lb.End("b", 5*time.Millisecond)

	assert.Equal(t, "b", lb.Pick())
}

func TestWeightedFavorsHigherWeight(t *testing.T) {
	lb := NewLoadBalancer(
		[]Upstream{{Addr: "a", Weight: 3}, {Addr: "b", Weight: 1}},
		NewWeighted([]Upstream{{Addr: "a", Weight: 3}, {Addr: "b", Weight: 1}}),
	)

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		counts[lb.Pick()]++
	}
	assert.Equal(t, 6, counts["a"])
	assert.Equal(t, 2, counts["b"])
}

func toUpstreams(addrs []string) []Upstream {
	out := make([]Upstream, len(addrs))
	for i, a := range addrs {
		out[i] = Upstream{Addr: a}
	}
	return out
}
