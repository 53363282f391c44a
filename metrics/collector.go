// Package metrics provides per-process counters for the agent.
//
// The Collector accumulates counters for the lifetime of one agent
// process. It is a leaf package with no internal dependencies; error kinds
// are recorded by name so it does not need the types package.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Connections
	ConnectionsAccepted int64
	ConnectionsEmpty    int64
	TransportErrors     int64

	// Requests
	Requests       int64
	RequestsByKind map[string]int64
	ErrorsByKind   map[string]int64

	// Jobs
	CompileSucceeded int64
	CompileFailed    int64
	Executions       int64
	SpawnFailures    int64

	// Dimensions (informational, set at construction)
	Network string
	Mode    string
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connectionsAccepted int64
	connectionsEmpty    int64
	transportErrors     int64

	requests       int64
	requestsByKind map[string]int64
	errorsByKind   map[string]int64

	compileSucceeded int64
	compileFailed    int64
	executions       int64
	spawnFailures    int64

	network string
	mode    string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(network, mode string) *Collector {
	return &Collector{
		requestsByKind: make(map[string]int64),
		errorsByKind:   make(map[string]int64),
		network:        network,
		mode:           mode,
	}
}

// --- Connections ---

// IncConnectionAccepted records an accepted connection.
func (c *Collector) IncConnectionAccepted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsAccepted++
	c.mu.Unlock()
}

// IncConnectionEmpty records a peer that closed without sending a frame.
func (c *Collector) IncConnectionEmpty() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsEmpty++
	c.mu.Unlock()
}

// IncTransportError records a read or write failure on a connection.
func (c *Collector) IncTransportError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transportErrors++
	c.mu.Unlock()
}

// --- Requests ---

// IncRequest records a request of the given kind. Undecodable requests are
// recorded with kind "unknown".
func (c *Collector) IncRequest(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requests++
	c.requestsByKind[kind]++
	c.mu.Unlock()
}

// IncError records an error answered to the host, by error kind name.
func (c *Collector) IncError(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.errorsByKind[kind]++
	c.mu.Unlock()
}

// --- Jobs ---

// IncCompileSucceeded records a compile that produced artifacts.
func (c *Collector) IncCompileSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.compileSucceeded++
	c.mu.Unlock()
}

// IncCompileFailed records a compile rejected by the compiler.
func (c *Collector) IncCompileFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.compileFailed++
	c.mu.Unlock()
}

// IncExecution records a workload run, including spawn failures.
func (c *Collector) IncExecution() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.executions++
	c.mu.Unlock()
}

// IncSpawnFailure records a workload that could not be started.
func (c *Collector) IncSpawnFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.spawnFailures++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnectionsAccepted: c.connectionsAccepted,
		ConnectionsEmpty:    c.connectionsEmpty,
		TransportErrors:     c.transportErrors,

		Requests:       c.requests,
		RequestsByKind: copyCounts(c.requestsByKind),
		ErrorsByKind:   copyCounts(c.errorsByKind),

		CompileSucceeded: c.compileSucceeded,
		CompileFailed:    c.compileFailed,
		Executions:       c.executions,
		SpawnFailures:    c.spawnFailures,

		Network: c.network,
		Mode:    c.mode,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Fields flattens the snapshot into log fields.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"connections_accepted": s.ConnectionsAccepted,
		"connections_empty":    s.ConnectionsEmpty,
		"transport_errors":     s.TransportErrors,
		"requests":             s.Requests,
		"requests_by_kind":     s.RequestsByKind,
		"errors_by_kind":       s.ErrorsByKind,
		"compile_succeeded":    s.CompileSucceeded,
		"compile_failed":       s.CompileFailed,
		"executions":           s.Executions,
		"spawn_failures":       s.SpawnFailures,
		"network":              s.Network,
		"mode":                 s.Mode,
	}
}
