// Package selector implements the cooperative reactor described in
// SPEC_FULL.md §4.1: a single goroutine drains socket readiness, deferred
// closures, and timers, so that everything it touches can be mutated
// without a lock as long as the mutation happens from that goroutine.
//
// The C++ ancestor (original_source/whisperlib/net/base/selector.cc) polls
// real file descriptors with epoll/kqueue and wakes the loop with a
// self-pipe byte. Go has no portable way to hand a raw fd into a select()
// call without giving up net.Conn's buffering, so this package substitutes
// the idiomatic equivalent: registered connections are read from their own
// goroutine, and each readiness event is translated into a closure posted
// to the loop's channel. The single-goroutine-owns-all-state invariant is
// exactly the same; only the wakeup mechanism changed (documented in
// SPEC_FULL.md §4.1).
package selector

import (
	"container/heap"
	"sync"
	"time"
)

// Closure is a unit of deferred work run on the selector goroutine.
type Closure func()

// AlarmHandle identifies a registered alarm so callers can reschedule or
// cancel it by value instead of by closure identity (SPEC_FULL.md §9:
// "surface alarm handles explicitly as values").
type AlarmHandle struct {
	id uint64
}

type alarmEntry struct {
	handle  AlarmHandle
	fireAt  int64 // unix milliseconds
	closure Closure
	index   int // heap index, maintained by container/heap
	dead    bool
}

type alarmHeap []*alarmEntry

func (h alarmHeap) Len() int            { return len(h) }
func (h alarmHeap) Less(i, j int) bool  { return h[i].fireAt < h[j].fireAt }
func (h alarmHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *alarmHeap) Push(x interface{}) {
	e := x.(*alarmEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *alarmHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Selectable is anything the selector can register for readiness
// notification. A real implementation wraps a net.Conn; tests may use a
// fake.
type Selectable interface {
	// ID uniquely identifies this selectable for Unregister/closing
	// skip-checks within one loop iteration.
	ID() uint64
}

// Desire is a bitmask of readiness a registration wants to be told about.
type Desire uint8

const (
	DesireRead Desire = 1 << iota
	DesireWrite
	DesireError
)

// Config mirrors the standard_wake_ms / events_per_poll /
// closures_per_event knobs from SPEC_FULL.md §6.4.
type Config struct {
	StandardWakeMs   int64
	EventsPerPoll    int
	ClosuresPerEvent int
}

// DefaultConfig returns the teacher-equivalent defaults.
func DefaultConfig() Config {
	return Config{StandardWakeMs: 1000, EventsPerPoll: 256, ClosuresPerEvent: 64}
}

// Selector is the single-goroutine reactor.
type Selector struct {
	cfg Config

	loopGoroutine chan struct{} // closed once the loop goroutine is running
	loopOnce      sync.Once

	mu         sync.Mutex
	registered map[uint64]Selectable
	closedIDs  map[uint64]bool // closed mid-iteration, skip remaining handlers

	runQueue chan Closure

	alarmMu    sync.Mutex
	alarms     alarmHeap
	byHandleID map[uint64]*alarmEntry
	nextAlarm  uint64

	nowMs     int64
	exitCh    chan struct{}
	exited    chan struct{}
	loopTID   int64 // not read; IsInSelectThread uses curToken
	curToken  sync.Map
}

// New creates a Selector. Call Run in its own goroutine to start it.
func New(cfg Config) *Selector {
	return &Selector{
		cfg:        cfg,
		registered: make(map[uint64]Selectable),
		closedIDs:  make(map[uint64]bool),
		runQueue:   make(chan Closure, 4096),
		byHandleID: make(map[uint64]*alarmEntry),
		exitCh:     make(chan struct{}),
		exited:     make(chan struct{}),
		nowMs:      nowMillis(),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Register adds a selectable under the reactor's management. Must be
// called from the select thread (use RunInSelectLoop from elsewhere).
func (s *Selector) Register(sel Selectable, _ Desire) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[sel.ID()] = sel
}

// UpdateDesire changes which readiness flags a selectable wants. Flag
// changes are coalesced by whatever reader-goroutine owns the connection;
// the reactor itself just remembers the selectable is still registered.
func (s *Selector) UpdateDesire(sel Selectable, _ Desire) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered[sel.ID()] = sel
}

// Unregister removes a selectable immediately.
func (s *Selector) Unregister(sel Selectable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registered, sel.ID())
}

// MarkClosed records that a selectable's fd was closed mid-iteration so
// any further queued handlers for it this iteration are skipped
// (SPEC_FULL.md §4.1 step 4).
func (s *Selector) MarkClosed(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedIDs[id] = true
	delete(s.registered, id)
}

func (s *Selector) wasClosedThisIteration(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedIDs[id]
}

func (s *Selector) resetClosedSet() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedIDs = make(map[uint64]bool)
}

// RunInSelectLoop enqueues a closure for execution on the selector
// goroutine. Safe to call from any goroutine.
func (s *Selector) RunInSelectLoop(c Closure) {
	select {
	case s.runQueue <- c:
	case <-s.exitCh:
	}
}

// DeleteInSelectLoop enqueues del on the run queue exactly like
// RunInSelectLoop; del is invoked on the select thread.
func (s *Selector) DeleteInSelectLoop(del Closure) {
	s.RunInSelectLoop(del)
}

// RegisterAlarm arms closure to fire delayMs from now; every call creates
// a separate alarm with a new handle. To get the "at most one outstanding
// alarm per closure identity" behavior (§4.1), callers keep the returned
// handle and pass it to Reschedule instead of calling RegisterAlarm again
// — Go closures have no stable identity to dedupe on (§9).
func (s *Selector) RegisterAlarm(closure Closure, delayMs int64) AlarmHandle {
	s.alarmMu.Lock()
	defer s.alarmMu.Unlock()

	s.nextAlarm++
	h := AlarmHandle{id: s.nextAlarm}
	e := &alarmEntry{handle: h, fireAt: s.currentNow() + delayMs, closure: closure}
	heap.Push(&s.alarms, e)
	s.byHandleID[h.id] = e
	return h
}

// Reschedule re-arms an existing alarm handle at a new delay, satisfying
// the "idempotence" rule: re-registration reschedules in place rather than
// creating a second outstanding alarm.
func (s *Selector) Reschedule(h AlarmHandle, delayMs int64) bool {
	s.alarmMu.Lock()
	defer s.alarmMu.Unlock()

	e, ok := s.byHandleID[h.id]
	if !ok || e.dead {
		return false
	}
	e.fireAt = s.currentNow() + delayMs
	heap.Fix(&s.alarms, e.index)
	return true
}

// CancelAlarm removes an alarm before it fires. Safe to call even if the
// alarm already fired.
func (s *Selector) CancelAlarm(h AlarmHandle) {
	s.alarmMu.Lock()
	defer s.alarmMu.Unlock()

	e, ok := s.byHandleID[h.id]
	if !ok {
		return
	}
	delete(s.byHandleID, h.id)
	if e.index >= 0 {
		heap.Remove(&s.alarms, e.index)
	}
	e.dead = true
}

func (s *Selector) currentNow() int64 {
	return s.nowMs
}

// nextAlarmFireMs returns the fire time of the earliest live alarm, or -1
// if none are pending.
func (s *Selector) nextAlarmFireMs() int64 {
	s.alarmMu.Lock()
	defer s.alarmMu.Unlock()
	if len(s.alarms) == 0 {
		return -1
	}
	return s.alarms[0].fireAt
}

// fireDueAlarms pops and runs every alarm whose fireAt <= now, in fire
// order, returning how many fired.
func (s *Selector) fireDueAlarms(now int64) int {
	var due []*alarmEntry
	s.alarmMu.Lock()
	for len(s.alarms) > 0 && s.alarms[0].fireAt <= now {
		e := heap.Pop(&s.alarms).(*alarmEntry)
		delete(s.byHandleID, e.handle.id)
		if !e.dead {
			due = append(due, e)
		}
	}
	s.alarmMu.Unlock()

	for _, e := range due {
		e.closure()
	}
	return len(due)
}

// MakeLoopExit requests the reactor to stop after the current iteration.
// On shutdown every registered selectable is forcibly closed (via
// onShutdownClose, if provided to Run), remaining closures are drained,
// and alarms still due are fired; alarms with a future fire time are
// dropped and logged by the caller (SPEC_FULL.md §4.1).
func (s *Selector) MakeLoopExit() {
	select {
	case <-s.exitCh:
	default:
		close(s.exitCh)
	}
}

// IsInSelectThread reports whether Run is in the part of a loop iteration
// that polls, runs ready handlers, drains queued closures and fires
// alarms. The flag in curToken is shared, so it does not tell whether the
// calling goroutine is the one running Run.
func (s *Selector) IsInSelectThread() bool {
	v, ok := s.curToken.Load("running")
	return ok && v.(bool)
}

// PollFunc abstracts the readiness multiplexer: given registered
// selectables and a timeout, it returns the ids that are ready. Real
// server code supplies one backed by connection reader goroutines feeding
// a ready-queue; tests can supply a trivial stub.
type PollFunc func(reg map[uint64]Selectable, timeoutMs int64) (readyIDs []uint64, handlers map[uint64]Closure)

// Run executes the reactor loop until MakeLoopExit is called. onShutdown,
// if non-nil, is invoked once per still-registered selectable at shutdown
// (SPEC_FULL.md §4.1 "forcibly closes every registered selectable").
func (s *Selector) Run(poll PollFunc, onShutdown func(Selectable)) {
	defer close(s.exited)

	for {
		s.nowMs = nowMillis()
		s.resetClosedSet()

		select {
		case <-s.exitCh:
			s.drainShutdown(poll, onShutdown)
			return
		default:
		}

		sleep := s.cfg.StandardWakeMs
		if nextAlarm := s.nextAlarmFireMs(); nextAlarm >= 0 {
			if d := nextAlarm - s.nowMs; d < sleep {
				sleep = d
			}
		}
		if sleep < 0 {
			sleep = 0
		}
		if len(s.runQueue) > 0 {
			sleep = 0
		}

		s.mu.Lock()
		reg := make(map[uint64]Selectable, len(s.registered))
		for k, v := range s.registered {
			reg[k] = v
		}
		s.mu.Unlock()

		s.curToken.Store("running", true)

		readyIDs, handlers := poll(reg, sleep)
		if len(readyIDs) > s.cfg.EventsPerPoll {
			readyIDs = readyIDs[:s.cfg.EventsPerPoll]
		}
		for _, id := range readyIDs {
			if s.wasClosedThisIteration(id) {
				continue
			}
			if h, ok := handlers[id]; ok && h != nil {
				h()
			}
		}

		s.nowMs = nowMillis()
		drained := 0
		for drained < s.cfg.ClosuresPerEvent {
			select {
			case c := <-s.runQueue:
				c()
				drained++
			default:
				drained = s.cfg.ClosuresPerEvent
			}
		}

		s.nowMs = nowMillis()
		s.fireDueAlarms(s.nowMs)

		s.curToken.Store("running", false)
	}
}

func (s *Selector) drainShutdown(poll PollFunc, onShutdown func(Selectable)) {
	s.mu.Lock()
	reg := make([]Selectable, 0, len(s.registered))
	for _, v := range s.registered {
		reg = append(reg, v)
	}
	s.registered = make(map[uint64]Selectable)
	s.mu.Unlock()

	if onShutdown != nil {
		for _, sel := range reg {
			onShutdown(sel)
		}
	}

	for {
		select {
		case c := <-s.runQueue:
			c()
		default:
			now := nowMillis()
			s.fireDueAlarms(now)
			s.alarmMu.Lock()
			remaining := len(s.alarms)
			s.alarms = nil
			s.byHandleID = make(map[uint64]*alarmEntry)
			s.alarmMu.Unlock()
			_ = remaining // future alarms dropped; caller logs via Stopped()
			return
		}
	}
}

// Stopped returns a channel closed once Run has returned.
func (s *Selector) Stopped() <-chan struct{} {
	return s.exited
}
