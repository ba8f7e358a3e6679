// Package latchman implements leader election on top of ZooKeeper, in the
// shape of Curator's LeaderLatch: each contender owns one ordered ephemeral
// node and the node with the lowest sequence is the leader.
package latchman

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samuel/go-zookeeper/zk"
	"go.uber.org/atomic"

	"github.com/shanexu/go-latchman/utils"
)

var (
	OpenAclUnsafe = zk.WorldACL(zk.PermAll)
	CreatorAllAcl = zk.AuthACL(zk.PermAll)
	ReadAclUnsafe = zk.WorldACL(zk.PermRead)
)

type ErrUnexpectedEvent struct {
	zk.EventType
}

func (ue *ErrUnexpectedEvent) Error() string {
	return fmt.Sprintf("unexpected event %v", ue.EventType)
}

const (
	defaultRetryDelay = time.Millisecond * 500
	defaultRetryCount = 10
)

// LatchMan adapts a *zk.Conn to the LatchStore contract and fans the
// connection's session events out to subscribers.
type LatchMan struct {
	conn       *zk.Conn
	defaultACL []zk.ACL
	log        utils.Logger
	retryDelay time.Duration
	retryCount int
	closed     *atomic.Bool

	sl         sync.Mutex
	nextSubID  int
	subs       map[int]*StateSubscription
	hadSession bool
}

type ClientConfig struct {
	ACL        []zk.ACL
	Logger     utils.Logger
	RetryDelay time.Duration
	RetryCount int
}

type ClientOption func(*ClientConfig)

func WithACL(acl []zk.ACL) ClientOption {
	return func(c *ClientConfig) { c.ACL = acl }
}

func WithClientLogger(log utils.Logger) ClientOption {
	return func(c *ClientConfig) { c.Logger = log }
}

func WithRetry(delay time.Duration, count int) ClientOption {
	return func(c *ClientConfig) {
		c.RetryDelay = delay
		c.RetryCount = count
	}
}

// NewLatchMan wraps conn. events must be the session event channel returned
// by zk.Connect; LatchMan consumes it until the connection is closed.
func NewLatchMan(conn *zk.Conn, events <-chan zk.Event, opts ...ClientOption) *LatchMan {
	c := &ClientConfig{
		ACL:        OpenAclUnsafe,
		Logger:     utils.DefaultLogger("latchman"),
		RetryDelay: defaultRetryDelay,
		RetryCount: defaultRetryCount,
	}
	for _, opt := range opts {
		opt(c)
	}
	lm := &LatchMan{
		conn:       conn,
		defaultACL: c.ACL,
		log:        c.Logger,
		retryDelay: c.RetryDelay,
		retryCount: c.RetryCount,
		closed:     atomic.NewBool(false),
		subs:       make(map[int]*StateSubscription),
	}
	go lm.forwardSessionEvents(events)
	return lm
}

func (lm *LatchMan) Conn() *zk.Conn {
	return lm.conn
}

func (lm *LatchMan) forwardSessionEvents(events <-chan zk.Event) {
	for e := range events {
		if e.Type != zk.EventSession {
			continue
		}
		switch e.State {
		case zk.StateHasSession:
			lm.sl.Lock()
			had := lm.hadSession
			lm.hadSession = true
			lm.sl.Unlock()
			if had {
				lm.publish(StateReconnected)
			} else {
				lm.publish(StateConnected)
			}
		case zk.StateDisconnected:
			lm.publish(StateSuspended)
		case zk.StateExpired:
			lm.publish(StateLost)
		}
	}
	lm.closed.Store(true)
}

func (lm *LatchMan) publish(s ConnState) {
	lm.sl.Lock()
	defer lm.sl.Unlock()
	for _, sub := range lm.subs {
		select {
		case sub.ch <- s:
		default:
			// full buffer: evict the oldest pending state so the latest
			// always gets through
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- s:
			default:
			}
			lm.log.Warnf("subscriber not keeping up, coalescing session state %v", s)
		}
	}
}

func (lm *LatchMan) SubscribeConnState() *StateSubscription {
	lm.sl.Lock()
	defer lm.sl.Unlock()
	id := lm.nextSubID
	lm.nextSubID++
	sub := &StateSubscription{ch: make(chan ConnState, 16)}
	sub.cancel = func() {
		lm.sl.Lock()
		defer lm.sl.Unlock()
		delete(lm.subs, id)
	}
	lm.subs[id] = sub
	return sub
}

func (lm *LatchMan) EnsurePath(path string) error {
	cur := ""
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		_, err := lm.conn.Create(cur, nil, 0, lm.defaultACL)
		if err != nil && err != zk.ErrNodeExists {
			return err
		}
	}
	return nil
}

// CreateEphemeralOrdered uses a protected create so a retried request after a
// connection loss finds the node it already made instead of making a second.
// The returned path must carry a sequence suffix; a name that cannot be
// ranked would silently drop out of every listing.
func (lm *LatchMan) CreateEphemeralOrdered(pathPrefix string, data []byte) (string, error) {
	path, err := lm.conn.CreateProtectedEphemeralSequential(pathPrefix, data, lm.defaultACL)
	if err != nil {
		return "", err
	}
	if _, err := path2Seq(path); err != nil {
		return "", err
	}
	return path, nil
}

func (lm *LatchMan) Children(parent string) ([]string, error) {
	children, _, err := lm.conn.Children(parent)
	return children, err
}

func (lm *LatchMan) Get(path string) ([]byte, error) {
	data, _, err := lm.conn.Get(path)
	return data, err
}

// ExistsW installs a deletion watch on path. The returned channel closes once
// the node is deleted; any event that invalidates the watch also closes it so
// the caller re-derives its state from a fresh listing.
func (lm *LatchMan) ExistsW(path string) (bool, <-chan struct{}, error) {
	ok, _, events, err := lm.conn.ExistsW(path)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	deleted := make(chan struct{})
	go lm.watchDeletion(path, events, deleted)
	return true, deleted, nil
}

func (lm *LatchMan) watchDeletion(path string, events <-chan zk.Event, deleted chan struct{}) {
	for {
		e, ok := <-events
		if !ok {
			close(deleted)
			return
		}
		switch e.Type {
		case zk.EventNodeDeleted:
			close(deleted)
			return
		case zk.EventNodeDataChanged:
			// watch consumed by a non-delete change, re-arm
			ok, _, next, err := lm.conn.ExistsW(path)
			if err != nil || !ok {
				close(deleted)
				return
			}
			events = next
		default:
			lm.log.Warnf("deletion watch on %s invalidated: %v", path, &ErrUnexpectedEvent{e.Type})
			close(deleted)
			return
		}
	}
}

type ZooKeeperOperation interface {
	Execute() (bool, error)
}

var _ ZooKeeperOperation = ZooKeeperOperationFunc(nil)

type ZooKeeperOperationFunc func() (bool, error)

func (f ZooKeeperOperationFunc) Execute() (bool, error) {
	return f()
}

// retryOperation runs op up to retryCount times, sleeping retryDelay between
// attempts. Only connection-class errors are retried.
func (lm *LatchMan) retryOperation(op ZooKeeperOperation) (bool, error) {
	var lastErr error
	for i := 0; i < lm.retryCount; i++ {
		ok, err := op.Execute()
		if err == nil {
			return ok, nil
		}
		if !retryableError(err) {
			return false, err
		}
		lastErr = err
		time.Sleep(lm.retryDelay)
	}
	return false, lastErr
}

func retryableError(err error) bool {
	switch err {
	case zk.ErrConnectionClosed, zk.ErrSessionExpired, zk.ErrSessionMoved:
		return true
	}
	return false
}

// DeleteGuaranteed deletes path, treating an already-missing node as success.
// If bounded retries are exhausted by connection loss the delete moves to the
// background and keeps trying until the node is gone or the connection is
// permanently closed.
func (lm *LatchMan) DeleteGuaranteed(path string) error {
	_, err := lm.retryOperation(ZooKeeperOperationFunc(func() (bool, error) {
		err := lm.conn.Delete(path, -1)
		if err == zk.ErrNoNode {
			return true, nil
		}
		return err == nil, err
	}))
	if err == nil {
		return nil
	}
	if retryableError(err) {
		go lm.deleteUntilGone(path)
		return nil
	}
	return err
}

func (lm *LatchMan) deleteUntilGone(path string) {
	for !lm.closed.Load() {
		err := lm.conn.Delete(path, -1)
		if err == nil || err == zk.ErrNoNode {
			return
		}
		if !retryableError(err) {
			lm.log.Warnf("giving up background delete of %s: %v", path, err)
			return
		}
		time.Sleep(lm.retryDelay)
	}
}

var _ LatchStore = (*LatchMan)(nil)
