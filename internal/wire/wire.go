// Package wire declares the JSON request/response shapes exchanged between
// components, per the wire protocol. Every inter-component call is HTTP with
// a JSON body; the structs here are the single source of truth for that
// boundary so handlers never pass around free-form maps.
package wire

import "time"

// WriteRequest is the body of a client write sent to the Coordinator, and of
// the leader-only write the Coordinator relays to a Node.
type WriteRequest struct {
	Key            string   `json:"key"`
	Value          string   `json:"value"`
	SyncFollowers  []string `json:"sync_followers,omitempty"`
	AsyncFollowers []string `json:"async_followers,omitempty"`
}

// WriteResponse is returned by a Node after a local write plus sync fan-out.
type WriteResponse struct {
	Version  int64 `json:"version"`
	SyncAcks int   `json:"sync_acks"`
}

// CoordinatorWriteResponse is what the Coordinator (and Gateway, verbatim)
// returns to the client.
type CoordinatorWriteResponse struct {
	Version int64 `json:"version"`
}

// ReplicateRequest is sent by a leader Node to a follower Node.
type ReplicateRequest struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version int64  `json:"version"`
	ReqID   string `json:"req_id,omitempty"`
}

// ReplicateResponse is the follower's ack.
type ReplicateResponse struct {
	Accepted     bool  `json:"accepted"`
	LocalVersion int64 `json:"local_version"`
}

// ReadResponse is returned by a Node for GET /read/{key}.
type ReadResponse struct {
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

// CoordinatorReadResponse additionally names which node answered.
type CoordinatorReadResponse struct {
	Value        string `json:"value"`
	Version      int64  `json:"version"`
	SourceNodeID string `json:"source_node_id"`
}

// Record is one entry of a Snapshot/BulkLoad payload.
type Record struct {
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

// SnapshotResponse is the full key/value/version map of a Node.
type SnapshotResponse struct {
	Records map[string]Record `json:"records"`
}

// BulkLoadRequest pushes a snapshot into a follower during catch-up.
type BulkLoadRequest struct {
	Records map[string]Record `json:"records"`
}

// BulkLoadResponse reports how many records were installed.
type BulkLoadResponse struct {
	Loaded int `json:"loaded"`
}

// HealthResponse is the Node health/stats payload.
type HealthResponse struct {
	Role        string  `json:"role"`
	UptimeS     float64 `json:"uptime_s"`
	RecordCount int     `json:"record_count"`
}

// HeartbeatRequest registers or refreshes a node's membership entry.
type HeartbeatRequest struct {
	NodeID       string `json:"node_id"`
	Role         string `json:"role"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	StartupEpoch int    `json:"startup_epoch"`
}

// DeregisterRequest explicitly removes a node from the Registry.
type DeregisterRequest struct {
	NodeID string `json:"node_id"`
}

// OKResponse is the generic `{"ok": true}` acknowledgement.
type OKResponse struct {
	OK bool `json:"ok"`
}

// NodeDescriptor identifies one cluster member.
type NodeDescriptor struct {
	NodeID       string `json:"node_id"`
	Role         string `json:"role"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	StartupEpoch int    `json:"startup_epoch"`
}

// MembershipEntry is the Registry's view of a node, returned by GET /nodes.
type MembershipEntry struct {
	NodeDescriptor
	LastHeartbeat time.Time `json:"last_heartbeat"`
	State         string    `json:"state"`
}

// SpawnResponse is returned by the Coordinator's POST /spawn.
type SpawnResponse struct {
	NodeID     string `json:"node_id"`
	Port       int    `json:"port"`
	WasRespawn bool   `json:"was_respawn"`
}

// StatusResponse describes the Coordinator's current ClusterLayout.
type StatusResponse struct {
	Leader       NodeDescriptor   `json:"leader"`
	Followers    []FollowerStatus `json:"followers"`
	WriteQuorum  int              `json:"write_quorum"`
	ReadQuorum   int              `json:"read_quorum"`
	SyncDelayMS  int64            `json:"sync_delay_ms"`
	AsyncDelayMS int64            `json:"async_delay_ms"`
}

// FollowerStatus is one follower's liveness and role in the current layout.
type FollowerStatus struct {
	NodeDescriptor
	Alive bool   `json:"alive"`
	Set   string `json:"set"` // "sync", "async", or "none" (not currently live)
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}
