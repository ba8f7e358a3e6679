package latchman

import (
	"errors"
	"testing"
	"time"

	"github.com/samuel/go-zookeeper/zk"
	"go.uber.org/atomic"

	"github.com/shanexu/go-latchman/utils"
)

func newTestLatchMan(retryDelay time.Duration, retryCount int) *LatchMan {
	return &LatchMan{
		defaultACL: OpenAclUnsafe,
		log:        utils.DefaultLogger("test"),
		retryDelay: retryDelay,
		retryCount: retryCount,
		closed:     atomic.NewBool(false),
		subs:       make(map[int]*StateSubscription),
	}
}

func TestLatchMan_retryOperation(t *testing.T) {
	type fields struct {
		retryDelay time.Duration
		retryCount int
	}
	type args struct {
		operation ZooKeeperOperation
	}
	tests := []struct {
		name    string
		fields  fields
		args    args
		want    bool
		wantErr bool
	}{
		{
			"succeeds first try",
			fields{time.Millisecond, 3},
			args{ZooKeeperOperationFunc(func() (bool, error) {
				return true, nil
			})},
			true,
			false,
		},
		{
			"recovers from connection loss",
			fields{time.Millisecond, 3},
			args{func() ZooKeeperOperation {
				c := 0
				return ZooKeeperOperationFunc(func() (bool, error) {
					c++
					if c == 3 {
						return true, nil
					}
					return false, zk.ErrConnectionClosed
				})
			}()},
			true,
			false,
		},
		{
			"retries exhausted",
			fields{time.Millisecond, 2},
			args{func() ZooKeeperOperation {
				c := 0
				return ZooKeeperOperationFunc(func() (bool, error) {
					c++
					if c == 3 {
						return true, nil
					}
					return false, zk.ErrConnectionClosed
				})
			}()},
			false,
			true,
		},
		{
			"non-retryable error returned at once",
			fields{time.Millisecond, 5},
			args{func() ZooKeeperOperation {
				c := 0
				return ZooKeeperOperationFunc(func() (bool, error) {
					c++
					if c > 1 {
						return false, errors.New("operation retried after fatal error")
					}
					return false, zk.ErrNotEmpty
				})
			}()},
			false,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lm := newTestLatchMan(tt.fields.retryDelay, tt.fields.retryCount)
			got, err := lm.retryOperation(tt.args.operation)
			if (err != nil) != tt.wantErr {
				t.Errorf("retryOperation() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("retryOperation() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_retryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{zk.ErrConnectionClosed, true},
		{zk.ErrSessionExpired, true},
		{zk.ErrSessionMoved, true},
		{zk.ErrNoNode, false},
		{zk.ErrNotEmpty, false},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := retryableError(tt.err); got != tt.want {
			t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestLatchMan_publishAndSubscribe(t *testing.T) {
	lm := newTestLatchMan(time.Millisecond, 1)

	a := lm.SubscribeConnState()
	b := lm.SubscribeConnState()

	lm.publish(StateSuspended)
	for _, sub := range []*StateSubscription{a, b} {
		select {
		case s := <-sub.C():
			if s != StateSuspended {
				t.Errorf("got state %v, want %v", s, StateSuspended)
			}
		default:
			t.Error("subscriber did not receive published state")
		}
	}

	a.Close()
	lm.publish(StateLost)
	select {
	case s := <-a.C():
		t.Errorf("closed subscription received %v", s)
	default:
	}
	select {
	case s := <-b.C():
		if s != StateLost {
			t.Errorf("got state %v, want %v", s, StateLost)
		}
	default:
		t.Error("live subscriber did not receive published state")
	}
}

func TestLatchMan_publishCoalescesWhenFull(t *testing.T) {
	lm := newTestLatchMan(time.Millisecond, 1)
	sub := lm.SubscribeConnState()

	for i := 0; i < cap(sub.C()); i++ {
		lm.publish(StateSuspended)
	}
	// the buffer is full; a terminal state must still get through
	lm.publish(StateLost)

	var last ConnState
	received := false
drain:
	for {
		select {
		case s := <-sub.C():
			last = s
			received = true
		default:
			break drain
		}
	}
	if !received {
		t.Fatal("subscriber received nothing")
	}
	if last != StateLost {
		t.Errorf("last delivered state = %v, want %v", last, StateLost)
	}
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateConnected, "Connected"},
		{StateSuspended, "Suspended"},
		{StateLost, "Lost"},
		{StateReconnected, "Reconnected"},
		{ConnState(99), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("ConnState.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateLatent, "Latent"},
		{StateStarted, "Started"},
		{StateClosed, "Closed"},
		{State(99), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
