// Package reap implements the reaper core (spec §4.6): the qnode/qsite
// scheduling state machine, checkpointing, and the prefetch worker pool
// that drives one reap cycle's downloads.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reap

import (
	"container/heap"
	"sync"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/site"
)

// Qnode is one scheduling node per qkey (spec §4.6): it owns a heap of
// its qsites ordered by the site's QueueBonus descending, and sits in
// exactly one of IDLE/ACTIVE/WAITING/READY. Qsites carry no sequence
// number: ties fall back to current heap position, which does not keep
// insertion order.
type Qnode struct {
	Qkey      site.Qkey
	State     int // cmn.QState*
	WaitUntil uint32
	Priority  uint32 // qpriority: derives ready_heap order
	Sequence  uint64 // tie-break, assigned on enqueue

	sites qsiteHeap

	// heap index bookkeeping, maintained by container/heap callbacks.
	waitIdx  int
	readyIdx int

	active *Qsite // the one qsite currently ACTIVE under this qnode, if any
}

// Qsite is one site currently attached to a qnode (spec §4.6).
type Qsite struct {
	Qnode         *Qnode
	Site          *site.Site
	PlanStart     int
	PlanEnd       int
	RobotCache    []byte
	NewSkey       uint32
	SkeyChangeCnt int
	State         int // cmn.QState*

	heapIdx int
}

type qsiteHeap []*Qsite

func (h qsiteHeap) Len() int { return len(h) }
func (h qsiteHeap) Less(i, j int) bool {
	if h[i].Site.QueueBonus != h[j].Site.QueueBonus {
		return h[i].Site.QueueBonus > h[j].Site.QueueBonus // qpriority desc
	}
	return i < j // heap position as the tie-break; insertion order is not kept
}
func (h qsiteHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx, h[j].heapIdx = i, j
}
func (h *qsiteHeap) Push(x interface{}) {
	qs := x.(*Qsite)
	qs.heapIdx = len(*h)
	*h = append(*h, qs)
}
func (h *qsiteHeap) Pop() interface{} {
	old := *h
	n := len(old)
	qs := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qs
}

// PushSite inserts qs into its qnode's internal heap.
func (n *Qnode) PushSite(qs *Qsite) {
	qs.Qnode = n
	heap.Push(&n.sites, qs)
}

// PopSite removes and returns the qnode's top qsite.
func (n *Qnode) PopSite() *Qsite {
	if n.sites.Len() == 0 {
		return nil
	}
	return heap.Pop(&n.sites).(*Qsite)
}

func (n *Qnode) TopSite() *Qsite {
	if n.sites.Len() == 0 {
		return nil
	}
	return n.sites[0]
}

// waitingHeap orders qnodes by wait_until ascending (spec §4.6).
type waitingHeap []*Qnode

func (h waitingHeap) Len() int            { return len(h) }
func (h waitingHeap) Less(i, j int) bool  { return h[i].WaitUntil < h[j].WaitUntil }
func (h waitingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].waitIdx, h[j].waitIdx = i, j }
func (h *waitingHeap) Push(x interface{}) { n := x.(*Qnode); n.waitIdx = len(*h); *h = append(*h, n) }
func (h *waitingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return v
}

// readyHeap orders qnodes by (qpriority desc, sequence asc).
type readyHeap []*Qnode

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}
func (h readyHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i]; h[i].readyIdx, h[j].readyIdx = i, j }
func (h *readyHeap) Push(x interface{})  { n := x.(*Qnode); n.readyIdx = len(*h); *h = append(*h, n) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return v
}

// Scheduler owns the qnode hash table plus the waiting/ready heaps (spec
// §4.6). All methods serialize through mu since the reaper's prefetch
// workers call get_site/put_site concurrently with the main loop's
// time_step (spec §5: "single producer, one consumer per worker").
type Scheduler struct {
	mu       sync.Mutex
	nodes    map[site.Qkey]*Qnode
	waiting  waitingHeap
	ready    readyHeap
	nextSeq  uint64
	maxRes   int
	maxFlush int
}

func NewScheduler(maxResolvers, maxFlushers int) *Scheduler {
	return &Scheduler{
		nodes:    make(map[site.Qkey]*Qnode),
		maxRes:   maxResolvers,
		maxFlush: maxFlushers,
	}
}

// nodeFor returns (creating if absent) the qnode for qkey, starting IDLE.
func (s *Scheduler) nodeFor(qk site.Qkey) *Qnode {
	n, ok := s.nodes[qk]
	if !ok {
		n = &Qnode{Qkey: qk, State: cmn.QStateIdle, waitIdx: -1, readyIdx: -1}
		if qk.IsUnresolved() || qk.IsNonexistent() {
			n.Priority = ^uint32(0)
		}
		s.nodes[qk] = n
	}
	return n
}

// Enqueue attaches qs to its site's qnode and makes the qnode eligible to
// be scheduled (READY if it has no delay pending, else WAITING).
func (s *Scheduler) Enqueue(qs *Qsite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodeFor(qs.Site.Qkey(0))
	n.PushSite(qs)
	if n.State == cmn.QStateIdle {
		s.relinkLocked(n, 0)
	}
}

// GetSite implements get_site(): pop the top ready qnode, pop its top
// qsite, mark both ACTIVE, return the qsite (spec §4.6 step 1).
func (s *Scheduler) GetSite() *Qsite {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.Len() == 0 {
		return nil
	}
	n := heap.Pop(&s.ready).(*Qnode)
	n.readyIdx = -1
	qs := n.PopSite()
	if qs == nil {
		n.State = cmn.QStateIdle
		return nil
	}
	n.State = cmn.QStateActive
	n.active = qs
	qs.State = cmn.QStateActive
	return qs
}

// PutSite implements put_site(): spec §4.6 step 2.
func (s *Scheduler) PutSite(qs *Qsite, now uint32, delay func(*Qnode) uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldNode := qs.Qnode
	if oldNode != nil {
		oldNode.active = nil
	}

	if qs.NewSkey != 0 && qs.NewSkey != qs.Site.Skey {
		qs.Site.Skey = qs.NewSkey
		newQk := qs.Site.Qkey(0) // channel forced to 0 on a skey migration
		oldNode = s.nodeFor(newQk)
		qs.Qnode = oldNode
	}

	if qs.PlanStart >= qs.PlanEnd {
		qs.State = cmn.QStateIdle
		s.maybeIdleLocked(oldNode)
		return
	}

	qs.State = cmn.QStateWaiting
	oldNode.PushSite(qs)
	wait := delay(oldNode)
	if wait == 0 {
		s.relinkLocked(oldNode, 0) // wait_until <= now: straight to READY
		return
	}
	s.relinkLocked(oldNode, now+wait)
}

// maybeIdleLocked transitions n to IDLE if it has no qsites left.
func (s *Scheduler) maybeIdleLocked(n *Qnode) {
	if n == nil {
		return
	}
	if n.TopSite() == nil {
		n.State = cmn.QStateIdle
		return
	}
	s.relinkLocked(n, 0)
}

// relinkLocked puts n into WAITING (if waitUntil is in the future) or
// READY, assigning it a fresh sequence number for the ready heap's
// tie-break.
func (s *Scheduler) relinkLocked(n *Qnode, waitUntil uint32) {
	if n.waitIdx >= 0 {
		heap.Remove(&s.waiting, n.waitIdx)
	}
	if n.readyIdx >= 0 {
		heap.Remove(&s.ready, n.readyIdx)
	}
	n.WaitUntil = waitUntil
	s.nextSeq++
	n.Sequence = s.nextSeq
	if waitUntil == 0 {
		n.State = cmn.QStateReady
		heap.Push(&s.ready, n)
		return
	}
	n.State = cmn.QStateWaiting
	heap.Push(&s.waiting, n)
}

// TimeStep implements time_step(now): drains the waiting heap into the
// ready heap for every node with wait_until <= now (spec §4.6 step 3).
func (s *Scheduler) TimeStep(now uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := 0
	for s.waiting.Len() > 0 && s.waiting[0].WaitUntil <= now {
		n := heap.Pop(&s.waiting).(*Qnode)
		n.waitIdx = -1
		n.State = cmn.QStateReady
		s.nextSeq++
		n.Sequence = s.nextSeq
		heap.Push(&s.ready, n)
		drained++
	}
	return drained
}

// ReadyCount/WaitingCount expose queue depth for tests and monitoring.
func (s *Scheduler) ReadyCount() int   { s.mu.Lock(); defer s.mu.Unlock(); return s.ready.Len() }
func (s *Scheduler) WaitingCount() int { s.mu.Lock(); defer s.mu.Unlock(); return s.waiting.Len() }
