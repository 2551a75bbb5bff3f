package cluster

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/catchup"
	"github.com/workshop/quorumkv/internal/wire"
)

// Spawner starts and stops node processes with os/exec, preserving the
// process-isolation boundary: each node is a real OS process reached over
// loopback HTTP, not an in-process goroutine.
type Spawner struct {
	mu          sync.Mutex
	nodeBinary  string
	basePort    int
	nextK       int
	writeQuorum int
	syncDelay   time.Duration
	asyncDelay  time.Duration
	registryURL string
	procs       map[string]*os.Process
	catchup     *catchup.Client
	log         *zap.Logger
}

// NewSpawner creates a Spawner. nodeBinary is the path to the compiled
// `node` binary; basePort is the first follower port (follower-1 onward).
// writeQuorum, syncDelay and asyncDelay resolve the per-process
// --replica-delay a spawned follower is launched with: the delay is fixed
// once at spawn time rather than varied per write, so a follower is
// assigned the sync delay if it is among the first writeQuorum followers
// spawned (and therefore expected to sit in the sync set while alive), and
// the async delay otherwise.
func NewSpawner(nodeBinary string, basePort, writeQuorum int, syncDelay, asyncDelay time.Duration, registryURL string, log *zap.Logger) *Spawner {
	return &Spawner{
		nodeBinary:  nodeBinary,
		basePort:    basePort,
		nextK:       1,
		writeQuorum: writeQuorum,
		syncDelay:   syncDelay,
		asyncDelay:  asyncDelay,
		registryURL: registryURL,
		procs:       make(map[string]*os.Process),
		catchup:     catchup.NewClient(log),
		log:         log,
	}
}

// Spawn starts a follower. If respawn is non-nil it reuses that node_id and
// port — a pruned id comes back on its original port, keeping the topology
// predictable. Otherwise it allocates the next follower-K id and port. If the
// leader has data, it kicks off catch-up before returning — the caller
// (Coordinator) adds the follower to the active layout only once Spawn
// returns successfully, so a still-catching-up follower never receives
// live sync traffic.
func (s *Spawner) Spawn(ctx context.Context, respawn *wire.NodeDescriptor, leaderAddr string, leaderHasData bool) (wire.NodeDescriptor, bool, error) {
	s.mu.Lock()
	var desc wire.NodeDescriptor
	wasRespawn := respawn != nil
	if wasRespawn {
		desc = *respawn
		desc.StartupEpoch++
	} else {
		desc = wire.NodeDescriptor{
			NodeID:       fmt.Sprintf("follower-%d", s.nextK),
			Role:         "follower",
			Host:         "127.0.0.1",
			Port:         s.basePort + s.nextK - 1,
			StartupEpoch: 1,
		}
		s.nextK++
	}
	// The spawn-order slot decides the fixed per-process delay. Deriving it
	// from the port keeps a respawned follower at its original slot's delay
	// rather than whatever nextK has advanced to since.
	slot := desc.Port - s.basePort + 1
	delay := s.asyncDelay
	if slot <= s.writeQuorum {
		delay = s.syncDelay
	}
	s.mu.Unlock()

	cmd := exec.CommandContext(context.Background(), s.nodeBinary,
		"--id", desc.NodeID,
		"--role", "follower",
		"--port", fmt.Sprintf("%d", desc.Port),
		"--replica-delay", delay.String(),
		"--registry", s.registryURL,
		"--startup-epoch", fmt.Sprintf("%d", desc.StartupEpoch),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return wire.NodeDescriptor{}, false, fmt.Errorf("spawn %s: %w", desc.NodeID, err)
	}

	s.mu.Lock()
	s.procs[desc.NodeID] = cmd.Process
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", desc.Host, desc.Port)
	if err := waitForReady(ctx, addr); err != nil {
		return desc, wasRespawn, fmt.Errorf("follower %s never became reachable: %w", desc.NodeID, err)
	}

	if leaderHasData {
		if _, err := s.catchup.Run(ctx, leaderAddr, addr); err != nil {
			return desc, wasRespawn, fmt.Errorf("catch-up for %s: %w", desc.NodeID, err)
		}
	}

	if s.log != nil {
		s.log.Info("spawned follower", zap.String("node_id", desc.NodeID), zap.Int("port", desc.Port), zap.Bool("was_respawn", wasRespawn))
	}
	return desc, wasRespawn, nil
}

// Catchup re-runs the catch-up procedure against an already-running
// follower without spawning a process for it, used when the Registry
// reports a resurrection hint: the node came back on its own rather than
// through Spawn, but it may have missed writes accepted while it was
// presumed dead and must not rejoin the active set until it is caught up
// again.
func (s *Spawner) Catchup(ctx context.Context, desc wire.NodeDescriptor, leaderAddr string, leaderHasData bool) error {
	if !leaderHasData {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", desc.Host, desc.Port)
	if _, err := s.catchup.Run(ctx, leaderAddr, addr); err != nil {
		return fmt.Errorf("catch-up for resurrected %s: %w", desc.NodeID, err)
	}
	return nil
}

// waitForReady polls a freshly spawned follower's /health endpoint with
// exponential backoff until it answers or maxAttempts is exhausted. A
// just-exec'd process has not opened its listener yet, so the first
// catch-up fetch needs a retry loop rather than a fixed sleep.
func waitForReady(ctx context.Context, addr string) error {
	const maxAttempts = 6
	client := &http.Client{Timeout: 500 * time.Millisecond}
	url := fmt.Sprintf("http://%s/health", addr)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))*50) * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

// Kill sends SIGTERM to a follower's process. It deliberately does not
// touch any membership state — a killed node and a crashed node must be
// indistinguishable to the Registry, which only learns of the gap from
// missed heartbeats.
func (s *Spawner) Kill(nodeID string) error {
	s.mu.Lock()
	proc, ok := s.procs[nodeID]
	delete(s.procs, nodeID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no tracked process for node_id %q", nodeID)
	}
	return proc.Signal(syscall.SIGTERM)
}
