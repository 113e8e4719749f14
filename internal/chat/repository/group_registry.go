package repository

import (
	"context"
	"sync"
)

// Member is one subscriber of a group, usually a websocket session
type Member interface {
	ID() string
	// Deliver hand payload to the member without blocking, false means dropped
	Deliver(payload []byte) bool
}

// GroupRegistry named sets of members. Send is best-effort and at-most-once
// per member joined at send time, there is no delivery receipt.
type GroupRegistry interface {
	Join(ctx context.Context, group string, m Member) error
	Leave(ctx context.Context, group string, m Member) error
	Send(ctx context.Context, group string, payload []byte) error
}

type memberSet struct {
	mu      sync.RWMutex
	members map[string]Member
}

func (s *memberSet) snapshot() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	return out
}

// LocalGroupRegistry in process registry, each group has its own lock
type LocalGroupRegistry struct {
	mu     sync.Mutex
	groups map[string]*memberSet
}

// NewLocalGroupRegistry create LocalGroupRegistry
func NewLocalGroupRegistry() *LocalGroupRegistry {
	return &LocalGroupRegistry{groups: make(map[string]*memberSet)}
}

// Join add member to group, group is created on first join
func (r *LocalGroupRegistry) Join(_ context.Context, group string, m Member) error {
	r.join(group, m)
	return nil
}

// Leave remove member from group, empty group is dropped
func (r *LocalGroupRegistry) Leave(_ context.Context, group string, m Member) error {
	r.leave(group, m)
	return nil
}

// Send deliver payload to every current member of group
func (r *LocalGroupRegistry) Send(ctx context.Context, group string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.deliver(group, payload)
	return nil
}

// Size number of members in group
func (r *LocalGroupRegistry) Size(group string) int {
	r.mu.Lock()
	set, ok := r.groups[group]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.members)
}

// join report whether the group was created by this call
func (r *LocalGroupRegistry) join(group string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.groups[group]
	if !ok {
		set = &memberSet{members: make(map[string]Member)}
		r.groups[group] = set
	}
	set.mu.Lock()
	set.members[m.ID()] = m
	set.mu.Unlock()
	return !ok
}

// leave report whether the group was removed by this call
func (r *LocalGroupRegistry) leave(group string, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.groups[group]
	if !ok {
		return false
	}
	set.mu.Lock()
	delete(set.members, m.ID())
	empty := len(set.members) == 0
	set.mu.Unlock()
	if empty {
		delete(r.groups, group)
	}
	return empty
}

// deliver 在鎖外呼叫 Deliver, 慢的 member 不會卡住其他 group
func (r *LocalGroupRegistry) deliver(group string, payload []byte) int {
	r.mu.Lock()
	set, ok := r.groups[group]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	delivered := 0
	for _, m := range set.snapshot() {
		if m.Deliver(payload) {
			delivered++
		}
	}
	return delivered
}
