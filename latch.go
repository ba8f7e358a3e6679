package latchman

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/shanexu/go-latchman/utils"
)

const latchPrefix = "latch-"

// State is the lifecycle of a LeaderLatch.
type State int32

const (
	StateLatent State = iota
	StateStarted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLatent:
		return "Latent"
	case StateStarted:
		return "Started"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// LeaderLatch elects a leader among the contenders registered under one
// latch path. Each started latch owns one ordered ephemeral node; the node
// with the lowest sequence holds leadership and every other latch watches the
// node immediately ahead of its own.
//
// All methods are safe for concurrent use. The only way to release
// leadership is Close; every started latch must eventually be closed.
type LeaderLatch struct {
	store     LatchStore
	log       utils.Logger
	latchPath string
	id        string

	state     *atomic.Int32
	connState *atomic.Int32
	leader    *atomic.Bool

	mu         sync.Mutex // guards ourPath, generation, notify
	ourPath    string
	generation uint64
	notify     chan struct{}

	ll        sync.RWMutex
	listeners []LeaderLatchListener

	sub    *StateSubscription
	evalCh chan uint64
	done   chan struct{}
}

type LatchConfig struct {
	ID     string
	Logger utils.Logger
}

type LatchOption func(*LatchConfig)

// WithID sets the participant id stored as this contender's node payload.
// The id is opaque to the election and may be empty.
func WithID(id string) LatchOption {
	return func(c *LatchConfig) { c.ID = id }
}

func WithLatchLogger(log utils.Logger) LatchOption {
	return func(c *LatchConfig) { c.Logger = log }
}

// NewLeaderLatch creates a latent latch contending under latchPath.
func NewLeaderLatch(store LatchStore, latchPath string, opts ...LatchOption) *LeaderLatch {
	c := &LatchConfig{
		Logger: utils.DefaultLogger("leaderlatch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return &LeaderLatch{
		store:     store,
		log:       c.Logger,
		latchPath: latchPath,
		id:        c.ID,
		state:     atomic.NewInt32(int32(StateLatent)),
		connState: atomic.NewInt32(int32(StateConnected)),
		leader:    atomic.NewBool(false),
		notify:    make(chan struct{}),
		evalCh:    make(chan uint64, 4),
		done:      make(chan struct{}),
	}
}

func (lm *LatchMan) NewLeaderLatch(latchPath string, opts ...LatchOption) *LeaderLatch {
	return NewLeaderLatch(lm, latchPath, opts...)
}

// ID returns this latch's participant id.
func (l *LeaderLatch) ID() string {
	return l.id
}

// State returns the current lifecycle state.
func (l *LeaderLatch) State() State {
	return State(l.state.Load())
}

// Start adds this latch to the election. It registers the contender node,
// derives its initial rank and, when not first, installs the predecessor
// watch before returning.
func (l *LeaderLatch) Start() error {
	if !l.state.CAS(int32(StateLatent), int32(StateStarted)) {
		return ErrAlreadyStarted
	}
	sub := l.store.SubscribeConnState()
	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()
	if err := l.store.EnsurePath(l.latchPath); err != nil {
		return storeErr("ensure", l.latchPath, err)
	}
	if err := l.reset(); err != nil {
		return err
	}
	if l.State() != StateStarted {
		// closed while starting; the run loop never launches
		sub.Close()
		return nil
	}
	go l.run()
	return nil
}

// Close removes this latch from the election, releasing leadership if held.
// The lifecycle transition and the leadership clear happen even when the
// node delete fails; the delete failure is what Close returns.
func (l *LeaderLatch) Close() error {
	if !l.state.CAS(int32(StateStarted), int32(StateClosed)) {
		return ErrNotStarted
	}
	close(l.done)
	defer func() {
		l.mu.Lock()
		sub := l.sub
		l.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		l.setLeadership(false)
	}()
	l.mu.Lock()
	path := l.ourPath
	l.mu.Unlock()
	if path == "" {
		return nil
	}
	if err := l.store.DeleteGuaranteed(path); err != nil {
		return storeErr("delete", path, err)
	}
	return nil
}

// HasLeadership reports whether this latch currently holds leadership. A
// latch that lost its session reports false even before re-evaluation runs.
func (l *LeaderLatch) HasLeadership() bool {
	return l.State() == StateStarted &&
		l.leader.Load() &&
		ConnState(l.connState.Load()) == StateConnected
}

// Await blocks until this latch acquires leadership, the latch is closed
// (ErrClosed), or ctx is done (ctx.Err()).
func (l *LeaderLatch) Await(ctx context.Context) error {
	for {
		if l.State() != StateStarted {
			return ErrClosed
		}
		if l.leader.Load() {
			return nil
		}
		l.mu.Lock()
		ch := l.notify
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// AwaitTimeout is Await bounded by timeout. It returns the equivalent of
// HasLeadership on exit; a non-positive timeout does not block at all.
func (l *LeaderLatch) AwaitTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for timeout > 0 && l.State() == StateStarted && !l.leader.Load() {
		l.mu.Lock()
		ch := l.notify
		l.mu.Unlock()
		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.HasLeadership(), ctx.Err()
		case <-ch:
			timer.Stop()
		case <-timer.C:
		}
		timeout = time.Until(deadline)
	}
	return l.HasLeadership(), nil
}

// reset drops any previous registration and joins the election with a fresh
// node. Called on start and after a lost session is re-established.
func (l *LeaderLatch) reset() error {
	l.setLeadership(false)
	l.mu.Lock()
	old := l.ourPath
	l.ourPath = ""
	l.mu.Unlock()
	if old != "" {
		// the store reaps ephemeral nodes of a dead session anyway
		if err := l.store.DeleteGuaranteed(old); err != nil {
			l.log.Warnf("cannot delete previous latch node %s: %v", old, err)
		}
	}
	prefix := l.latchPath + "/" + latchPrefix
	path, err := l.store.CreateEphemeralOrdered(prefix, []byte(l.id))
	if err != nil {
		return storeErr("create", prefix, err)
	}
	l.mu.Lock()
	l.ourPath = path
	l.generation++
	gen := l.generation
	l.mu.Unlock()
	if l.State() != StateStarted {
		// closed while the create was in flight; Close may have seen no
		// path to delete, so reap the node here
		l.mu.Lock()
		l.ourPath = ""
		l.mu.Unlock()
		if derr := l.store.DeleteGuaranteed(path); derr != nil {
			l.log.Warnf("cannot delete latch node %s after close: %v", path, derr)
		}
		return nil
	}
	return l.checkLeadership(gen)
}

// checkLeadership derives this latch's rank from a fresh listing. Rank 0
// takes leadership; otherwise a deletion watch goes on the immediate
// predecessor. A predecessor that vanished between the listing and the watch
// triggers another pass, so the latch never parks on a watch that cannot
// fire.
func (l *LeaderLatch) checkLeadership(gen uint64) error {
	for {
		if l.State() != StateStarted || gen != l.currentGeneration() {
			return nil
		}
		children, err := l.store.Children(l.latchPath)
		if err != nil {
			return storeErr("list", l.latchPath, err)
		}
		sorted := sortedLatchNames(children)
		if len(sorted) == 0 {
			return ErrNoCandidates
		}
		ourName := nodeFromPath(l.ourNode())
		ourIndex := -1
		for i, name := range sorted {
			if name == ourName {
				ourIndex = i
				break
			}
		}
		if ourIndex < 0 {
			return ErrEntryMissing
		}
		if ourIndex == 0 {
			l.setLeadership(true)
			return nil
		}
		watchPath := l.latchPath + "/" + sorted[ourIndex-1]
		ok, deleted, err := l.store.ExistsW(watchPath)
		if err != nil {
			return storeErr("watch", watchPath, err)
		}
		if !ok {
			continue
		}
		go l.watchPredecessor(gen, deleted)
		return nil
	}
}

func (l *LeaderLatch) watchPredecessor(gen uint64, deleted <-chan struct{}) {
	select {
	case <-l.done:
	case <-deleted:
		select {
		case l.evalCh <- gen:
		case <-l.done:
		}
	}
}

// run serializes every re-evaluation trigger: predecessor watches and session
// state changes both land here, so at most one evaluation touches the
// registration at a time.
func (l *LeaderLatch) run() {
	for {
		select {
		case <-l.done:
			return
		case gen := <-l.evalCh:
			if gen != l.currentGeneration() {
				continue // watch from a superseded registration
			}
			if err := l.checkLeadership(gen); err != nil {
				l.log.Errorf("leadership check failed: %v", err)
				l.setLeadership(false)
			}
		case s := <-l.sub.C():
			l.handleStateChange(s)
		}
	}
}

func (l *LeaderLatch) handleStateChange(s ConnState) {
	switch s {
	case StateSuspended:
		// not lost yet; the session and our node may survive
		return
	case StateReconnected:
		s = StateConnected
	case StateConnected, StateLost:
	default:
		return
	}
	prev := ConnState(l.connState.Swap(int32(s)))
	if prev == StateLost && s == StateConnected {
		// new session: the old ephemeral node is presumed gone, rejoin
		if err := l.reset(); err != nil {
			l.log.Errorf("cannot rejoin latch after reconnect: %v", err)
			l.connState.Store(int32(StateLost))
			l.setLeadership(false)
		}
	}
}

// setLeadership updates the flag, wakes every waiter and, on an actual
// transition, notifies listeners.
func (l *LeaderLatch) setLeadership(v bool) {
	l.mu.Lock()
	old := l.leader.Swap(v)
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
	if old != v {
		l.notifyListeners(v)
	}
}

func (l *LeaderLatch) currentGeneration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

func (l *LeaderLatch) ourNode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ourPath
}
