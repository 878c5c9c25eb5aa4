package metrics

import (
	"math/rand/v2"
	"sync/atomic"
)

const (
	maxLevel = 16
	// levelP is the inverse of the promotion probability between levels.
	levelP = 4
)

// node is a skip list entry. key and rec never change after publication; only
// the forward pointers are mutated, and only by CAS.
type node struct {
	key  string
	rec  *Record
	next []atomic.Pointer[node]
}

// skipList is an insert-only, lock-free ordered map from key to *Record.
//
// An entry becomes visible when it is linked at level 0; that CAS is the
// linearization point for get-or-create. Upper levels are an index only and
// are linked afterwards. Nodes are never unlinked, so readers need no
// protection beyond what the garbage collector already gives them.
type skipList struct {
	head   *node
	length atomic.Int64
}

func newSkipList() *skipList {
	return &skipList{head: &node{next: make([]atomic.Pointer[node], maxLevel)}}
}

func randomLevel() int {
	lvl := 1
	for lvl < maxLevel && rand.IntN(levelP) == 0 {
		lvl++
	}
	return lvl
}

// find fills preds and succs with the neighbours of key at every level and
// returns the node holding key, if present.
func (s *skipList) find(key string, preds, succs *[maxLevel]*node) *node {
	x := s.head
	for i := maxLevel - 1; i >= 0; i-- {
		next := x.next[i].Load()
		for next != nil && next.key < key {
			x = next
			next = x.next[i].Load()
		}
		preds[i] = x
		succs[i] = next
	}
	if n := succs[0]; n != nil && n.key == key {
		return n
	}
	return nil
}

// get returns the record stored under key.
func (s *skipList) get(key string) *Record {
	var preds, succs [maxLevel]*node
	if n := s.find(key, &preds, &succs); n != nil {
		return n.rec
	}
	return nil
}

// getOrCreate returns the record under key, inserting the one built by create
// if none exists. Concurrent callers for the same key all observe the same
// record. create is called at most once per call.
func (s *skipList) getOrCreate(key string, create func() *Record) (*Record, bool) {
	var (
		preds, succs [maxLevel]*node
		nn           *node
	)
	for {
		if n := s.find(key, &preds, &succs); n != nil {
			return n.rec, false
		}
		if nn == nil {
			nn = &node{key: key, rec: create(), next: make([]atomic.Pointer[node], randomLevel())}
		}
		for i := range nn.next {
			nn.next[i].Store(succs[i])
		}
		if preds[0].next[0].CompareAndSwap(succs[0], nn) {
			break
		}
		// Lost the race at level 0; the winner may hold our key.
	}
	s.length.Add(1)

	for i := 1; i < len(nn.next); i++ {
		for !preds[i].next[i].CompareAndSwap(succs[i], nn) {
			s.find(key, &preds, &succs)
			nn.next[i].Store(succs[i])
		}
	}
	return nn.rec, true
}

// rangeAll calls fn for each record in key order until fn returns false.
// Records inserted during the walk may or may not be visited.
func (s *skipList) rangeAll(fn func(*Record) bool) {
	for n := s.head.next[0].Load(); n != nil; n = n.next[0].Load() {
		if !fn(n.rec) {
			return
		}
	}
}

func (s *skipList) len() int {
	return int(s.length.Load())
}
