package quorum

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/cluster"
	"github.com/workshop/quorumkv/internal/errs"
	"github.com/workshop/quorumkv/internal/wire"
)

// ReadResult is returned to the client-facing handler.
type ReadResult struct {
	Value        string
	Version      int64
	SourceNodeID string
}

type readAnswer struct {
	desc    wire.NodeDescriptor
	value   string
	version int64
	found   bool
	err     error
}

// Read queries the read set in parallel with a short timeout, picks the
// highest version among responders, and fails quorum if fewer than R
// answered. A lagging responder in the read set is repaired in the
// background afterward.
func (c *Coordinator) Read(ctx context.Context, key string) (ReadResult, error) {
	start := time.Now()
	alive, err := c.alive(ctx)
	if err != nil {
		return ReadResult{}, errs.Wrap(errs.KindUnreachable, "registry unreachable", err)
	}

	readSet := c.layout.ReadSet(alive)
	answers := c.queryAll(ctx, readSet, key)

	best, answered := reconcile(answers)
	result := "ok"
	if answered < c.layout.ReadQuorum {
		result = "quorum_unavailable"
	}

	if answered < c.layout.ReadQuorum && c.RetryReadOutsideSet {
		extra := extraLiveFollowers(c.layout.Followers(), alive, readSet)
		if len(extra) > 0 {
			answers = append(answers, c.queryAll(ctx, extra, key)...)
			best, answered = reconcile(answers)
			if answered >= c.layout.ReadQuorum {
				result = "ok"
			}
		}
	}

	if c.metrics != nil {
		c.metrics.ReadDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
		if result == "quorum_unavailable" {
			c.metrics.QuorumFailuresTotal.WithLabelValues("read").Inc()
		}
	}

	if answered < c.layout.ReadQuorum {
		return ReadResult{}, errs.QuorumUnavailable("only %d/%d read-set followers answered", answered, c.layout.ReadQuorum)
	}
	if !best.found {
		return ReadResult{}, errs.NotFound("key %q not found", key)
	}

	c.readRepair(key, best, answers)
	return ReadResult{Value: best.value, Version: best.version, SourceNodeID: best.desc.NodeID}, nil
}

func (c *Coordinator) queryAll(ctx context.Context, targets []wire.NodeDescriptor, key string) []readAnswer {
	if len(targets) == 0 {
		return nil
	}
	results := make(chan readAnswer, len(targets))
	for _, d := range targets {
		d := d
		go func() {
			addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
			resp, found, err := c.client.readNode(ctx, addr, key)
			if err != nil {
				results <- readAnswer{desc: d, err: err}
				return
			}
			results <- readAnswer{desc: d, value: resp.Value, version: resp.Version, found: found}
		}()
	}

	out := make([]readAnswer, 0, len(targets))
	for i := 0; i < len(targets); i++ {
		select {
		case a := <-results:
			out = append(out, a)
		case <-ctx.Done():
			return out
		}
	}
	return out
}

// reconcile picks the highest-version answer among those that found the
// key, and counts how many targets answered at all (found or genuinely
// not-found, as opposed to erroring/timing out) toward the read quorum.
func reconcile(answers []readAnswer) (readAnswer, int) {
	var best readAnswer
	answered := 0
	for _, a := range answers {
		if a.err != nil {
			continue
		}
		answered++
		if a.found && (!best.found || a.version > best.version) {
			best = a
		}
	}
	return best, answered
}

func extraLiveFollowers(followers []cluster.Follower, alive, readSet []wire.NodeDescriptor) []wire.NodeDescriptor {
	inReadSet := make(map[string]bool, len(readSet))
	for _, d := range readSet {
		inReadSet[d.NodeID] = true
	}
	aliveByID := make(map[string]wire.NodeDescriptor, len(alive))
	for _, d := range alive {
		aliveByID[d.NodeID] = d
	}

	var out []wire.NodeDescriptor
	for _, f := range followers {
		if inReadSet[f.Descriptor.NodeID] {
			continue
		}
		if d, ok := aliveByID[f.Descriptor.NodeID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// readRepair issues a background fire-and-forget replicate to any read-set
// responder whose version lagged the chosen best.
func (c *Coordinator) readRepair(key string, best readAnswer, answers []readAnswer) {
	if !best.found {
		return
	}
	for _, a := range answers {
		if a.err != nil || !a.found || a.version >= best.version {
			continue
		}
		a := a
		go func() {
			addr := fmt.Sprintf("%s:%d", a.desc.Host, a.desc.Port)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.client.replicate(ctx, addr, wire.ReplicateRequest{Key: key, Value: best.value, Version: best.version}); err != nil {
				if c.log != nil {
					c.log.Debug("read repair failed", zap.String("node_id", a.desc.NodeID), zap.Error(err))
				}
				return
			}
			if c.metrics != nil {
				c.metrics.ReadRepairsTotal.Inc()
			}
		}()
	}
}
