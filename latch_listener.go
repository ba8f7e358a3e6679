package latchman

// LeaderLatchListener is notified on leadership transitions. Callbacks run on
// the latch's own goroutines; keep them short or hand off.
type LeaderLatchListener interface {
	IsLeader()
	NotLeader()
}

func (l *LeaderLatch) AddListener(listener LeaderLatchListener) {
	l.ll.Lock()
	defer l.ll.Unlock()
	l.listeners = append(l.listeners, listener)
}

func (l *LeaderLatch) RemoveListener(listener LeaderLatchListener) {
	l.ll.Lock()
	defer l.ll.Unlock()
	i := 0
	for ; i < len(l.listeners); i++ {
		if listener == l.listeners[i] {
			break
		}
	}
	if i == len(l.listeners) {
		return
	}
	l.listeners = append(l.listeners[0:i], l.listeners[i+1:]...)
}

func (l *LeaderLatch) notifyListeners(isLeader bool) {
	l.ll.RLock()
	defer l.ll.RUnlock()
	for _, listener := range l.listeners {
		if isLeader {
			listener.IsLeader()
		} else {
			listener.NotLeader()
		}
	}
}
