package model

import "sync"

// Snapshot is a deep copy of the model parameters taken after a task.
type Snapshot struct {
	Task   int
	Params []*Param
}

// Param returns the snapshot copy of the named parameter.
func (s *Snapshot) Param(name string) (*Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// SnapshotStore keeps per-task parameter snapshots. With max > 0 the
// oldest snapshot is released once the store is full.
type SnapshotStore struct {
	mu    sync.Mutex
	max   int
	items []*Snapshot
}

// NewSnapshotStore creates a store; limit <= 0 means unbounded.
func NewSnapshotStore(limit int) *SnapshotStore {
	return &SnapshotStore{max: limit}
}

// Add deep-copies params as task's snapshot, replacing an older one for the
// same task.
func (s *SnapshotStore) Add(task int, params []*Param) {
	snap := &Snapshot{Task: task, Params: make([]*Param, len(params))}
	for i, p := range params {
		snap.Params[i] = p.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(task)
	s.items = append(s.items, snap)
	if s.max > 0 && len(s.items) > s.max {
		s.items = s.items[len(s.items)-s.max:]
	}
}

// Get returns task's snapshot.
func (s *SnapshotStore) Get(task int) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.items {
		if snap.Task == task {
			return snap, true
		}
	}
	return nil, false
}

// Release drops task's snapshot.
func (s *SnapshotStore) Release(task int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(task)
}

func (s *SnapshotStore) release(task int) {
	for i, snap := range s.items {
		if snap.Task == task {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Tasks lists the retained tasks, oldest first.
func (s *SnapshotStore) Tasks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.items))
	for i, snap := range s.items {
		out[i] = snap.Task
	}
	return out
}

// Len is the number of retained snapshots.
func (s *SnapshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
