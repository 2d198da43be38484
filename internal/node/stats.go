package node

import "sync/atomic"

// Statistics counts how this node took part in other nodes' searches.
type Statistics struct {
	received  atomic.Int64
	forwarded atomic.Int64
	answered  atomic.Int64
}

type StatsSnapshot struct {
	Received  int64 `json:"received"`
	Forwarded int64 `json:"forwarded"`
	Answered  int64 `json:"answered"`
}

func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:  s.received.Load(),
		Forwarded: s.forwarded.Load(),
		Answered:  s.answered.Load(),
	}
}

func (s *Statistics) Reset() {
	s.received.Store(0)
	s.forwarded.Store(0)
	s.answered.Store(0)
}
