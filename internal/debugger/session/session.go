// Package session holds the in-memory record of one debugging session:
// the loaded binary, known breakpoints, watches, and last-seen inferior
// state. It performs no I/O and enforces no concurrency of its own — all
// mutation happens on the single goroutine handling a tool call, per the
// cooperative-ownership rule described alongside DebuggerTools.
package session

import "sync"

// InferiorState is the debugger's view of the process being debugged.
// Transitions are driven only by asynchronous notifications from GDB;
// never inferred from console text.
type InferiorState string

const (
	StateIdle    InferiorState = "idle"
	StateLoaded  InferiorState = "loaded"
	StateRunning InferiorState = "running"
	StateStopped InferiorState = "stopped"
	StateExited  InferiorState = "exited"
)

// Breakpoint mirrors a GDB breakpoint record. Numbers are assigned by GDB;
// this package only stores what the controller surfaces.
type Breakpoint struct {
	Number    int    `json:"number"`
	Location  string `json:"location"`
	Address   string `json:"address,omitempty"`
	Enabled   bool   `json:"enabled"`
	Condition string `json:"condition,omitempty"`
	HitCount  int    `json:"hit_count"`
}

// WatchFormat is the rendering requested for a watched memory region.
type WatchFormat string

const (
	WatchHex    WatchFormat = "hex"
	WatchString WatchFormat = "string"
	WatchInt    WatchFormat = "int"
)

// Watch is a caller-declared memory region of interest. The controller
// does not poll it; it is bookkeeping surfaced back through
// get_session_info.
type Watch struct {
	Address   string      `json:"address"`
	SizeBytes int         `json:"size_bytes"`
	Format    WatchFormat `json:"format"`
}

// State is the full session snapshot returned by get_session_info.
// Invariant: BinaryLoaded implies BinaryPath != "".
type State struct {
	SessionID     string             `json:"session_id"`
	BinaryPath    string             `json:"binary_path,omitempty"`
	BinaryLoaded  bool               `json:"binary_loaded"`
	PID           int                `json:"pid,omitempty"`
	InferiorState InferiorState      `json:"state"`
	Breakpoints   map[int]Breakpoint `json:"breakpoints"`
	Watches       []Watch            `json:"watches"`
}

// Session is the mutable, single-owner session record. It is not safe for
// concurrent mutation from multiple goroutines; it is guarded by a mutex
// only so reads from an unrelated goroutine (e.g. a health check) cannot
// race with the owning tool-call goroutine's writes.
type Session struct {
	mu    sync.Mutex
	state State
}

// New creates an empty session in the idle state.
func New(sessionID string) *Session {
	return &Session{
		state: State{
			SessionID:     sessionID,
			InferiorState: StateIdle,
			Breakpoints:   make(map[int]Breakpoint),
		},
	}
}

// Snapshot returns a deep-enough copy of the current state for safe
// read-only use by the caller.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	bps := make(map[int]Breakpoint, len(s.state.Breakpoints))
	for k, v := range s.state.Breakpoints {
		bps[k] = v
	}
	watches := make([]Watch, len(s.state.Watches))
	copy(watches, s.state.Watches)

	snap := s.state
	snap.Breakpoints = bps
	snap.Watches = watches
	return snap
}

// SetBinaryLoaded records a successful set_file: binary_path is set and
// binary_loaded becomes true.
func (s *Session) SetBinaryLoaded(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BinaryPath = path
	s.state.BinaryLoaded = true
	s.state.InferiorState = StateLoaded
}

// SetPID records the inferior's pid, as seen from attach or
// thread-group-started.
func (s *Session) SetPID(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PID = pid
}

// SetInferiorState updates the session's shadow of InferiorState. The
// controller is the sole writer of truth; this mirrors it for read-only
// reporting.
func (s *Session) SetInferiorState(st InferiorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.InferiorState = st
}

// CurrentState returns just the inferior state without a full snapshot.
func (s *Session) CurrentState() InferiorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.InferiorState
}

// BinaryLoaded reports whether a binary has been loaded.
func (s *Session) BinaryLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.BinaryLoaded
}

// UpsertBreakpoint records or replaces a breakpoint by number. GDB is the
// source of truth; this is always called with the payload GDB returned,
// never a locally synthesized guess.
func (s *Session) UpsertBreakpoint(bp Breakpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Breakpoints[bp.Number] = bp
}

// ReplaceBreakpoints replaces the full breakpoint table, used after
// -break-list so the local view matches GDB's exactly.
func (s *Session) ReplaceBreakpoints(bps map[int]Breakpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Breakpoints = bps
}

// DeleteBreakpoint removes a breakpoint from the local view.
func (s *Session) DeleteBreakpoint(number int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Breakpoints, number)
}

// AddWatch appends a caller-declared watch.
func (s *Session) AddWatch(w Watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Watches = append(s.state.Watches, w)
}
