package latchman

import (
	"github.com/samuel/go-zookeeper/zk"
)

// Participant describes one contender at the time of a query. Values are
// built fresh from a listing and never mutated.
type Participant struct {
	ID       string
	IsLeader bool
}

// Participants polls the store for the current contenders in election order,
// the first one tagged leader. Because this is a fresh read it can disagree
// with a concurrent HasLeadership, which uses local state.
func (l *LeaderLatch) Participants() ([]Participant, error) {
	children, err := l.store.Children(l.latchPath)
	if err != nil {
		return nil, storeErr("list", l.latchPath, err)
	}
	sorted := sortedLatchNames(children)
	participants := make([]Participant, 0, len(sorted))
	for _, name := range sorted {
		data, err := l.store.Get(l.latchPath + "/" + name)
		if err == zk.ErrNoNode {
			// deleted between the listing and the read
			continue
		}
		if err != nil {
			return nil, storeErr("get", l.latchPath+"/"+name, err)
		}
		participants = append(participants, Participant{
			ID:       string(data),
			IsLeader: len(participants) == 0,
		})
	}
	return participants, nil
}

// Leader polls the store for the current leader. With no contenders it
// returns a zero Participant rather than an error.
func (l *LeaderLatch) Leader() (Participant, error) {
	participants, err := l.Participants()
	if err != nil {
		return Participant{}, err
	}
	if len(participants) == 0 {
		return Participant{}, nil
	}
	return participants[0], nil
}
