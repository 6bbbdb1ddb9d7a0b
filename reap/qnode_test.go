package reap

import (
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/site"
)

func newTestSite(skey uint32, bonus int) *site.Site {
	return &site.Site{Skey: skey, Port: 80, MaxConn: 2, QueueBonus: bonus}
}

func TestGetSiteReturnsNilWhenEmpty(t *testing.T) {
	s := NewScheduler(4, 4)
	if qs := s.GetSite(); qs != nil {
		t.Fatalf("expected nil from an empty scheduler, got %+v", qs)
	}
}

func TestEnqueueThenGetSiteRoundTrips(t *testing.T) {
	s := NewScheduler(4, 4)
	site1 := newTestSite(100, 0)
	qs := &Qsite{Site: site1, PlanStart: 0, PlanEnd: 3}
	s.Enqueue(qs)

	if s.ReadyCount() != 1 {
		t.Fatalf("expected 1 ready node, got %d", s.ReadyCount())
	}
	got := s.GetSite()
	if got == nil || got.Site != site1 {
		t.Fatalf("expected to get back the enqueued qsite, got %+v", got)
	}
	if got.State != cmn.QStateActive {
		t.Fatalf("expected ACTIVE state, got %d", got.State)
	}
}

func TestPutSiteRequeuesUnfinishedWork(t *testing.T) {
	s := NewScheduler(4, 4)
	site1 := newTestSite(100, 0)
	qs := &Qsite{Site: site1, PlanStart: 0, PlanEnd: 3}
	s.Enqueue(qs)

	got := s.GetSite()
	got.PlanStart = 1 // one entry consumed, two remain

	s.PutSite(got, 1_000, func(*Qnode) uint32 { return 0 })
	if s.ReadyCount() != 1 {
		t.Fatalf("expected the qsite to be requeued as ready, got ready=%d waiting=%d",
			s.ReadyCount(), s.WaitingCount())
	}

	again := s.GetSite()
	if again == nil || again.PlanStart != 1 {
		t.Fatalf("expected to re-fetch the same qsite with PlanStart=1, got %+v", again)
	}
}

func TestPutSiteGoesIdleWhenPlanExhausted(t *testing.T) {
	s := NewScheduler(4, 4)
	site1 := newTestSite(100, 0)
	qs := &Qsite{Site: site1, PlanStart: 0, PlanEnd: 1}
	s.Enqueue(qs)

	got := s.GetSite()
	got.PlanStart = 1 // plan exhausted
	s.PutSite(got, 1_000, func(*Qnode) uint32 { return 0 })

	if s.ReadyCount() != 0 || s.WaitingCount() != 0 {
		t.Fatalf("expected the qnode to go idle, ready=%d waiting=%d", s.ReadyCount(), s.WaitingCount())
	}
}

func TestPutSiteDelaysIntoWaitingHeap(t *testing.T) {
	s := NewScheduler(4, 4)
	site1 := newTestSite(100, 0)
	qs := &Qsite{Site: site1, PlanStart: 0, PlanEnd: 5}
	s.Enqueue(qs)

	got := s.GetSite()
	got.PlanStart = 1
	s.PutSite(got, 1_000, func(*Qnode) uint32 { return 30 })

	if s.WaitingCount() != 1 || s.ReadyCount() != 0 {
		t.Fatalf("expected the qnode to wait, ready=%d waiting=%d", s.ReadyCount(), s.WaitingCount())
	}
	if s.TimeStep(1_010) != 0 {
		t.Fatal("time_step before wait_until elapses should drain nothing")
	}
	if s.TimeStep(1_030) != 1 {
		t.Fatal("time_step at wait_until should drain exactly one node into ready")
	}
	if s.ReadyCount() != 1 {
		t.Fatalf("expected 1 ready node after time_step, got %d", s.ReadyCount())
	}
}

func TestReadyHeapOrdersByQueueBonusDesc(t *testing.T) {
	s := NewScheduler(4, 4)
	low := newTestSite(1, 10)
	high := newTestSite(2, 90)
	s.Enqueue(&Qsite{Site: low, PlanEnd: 1})
	s.Enqueue(&Qsite{Site: high, PlanEnd: 1})

	first := s.GetSite()
	if first.Site != high {
		t.Fatalf("expected the higher-bonus site to be scheduled first, got skey=%d", first.Site.Skey)
	}
}

func TestPutSiteMigratesOnSkeyResolution(t *testing.T) {
	s := NewScheduler(4, 4)
	st := newTestSite(cmn.SkeyUnresolvedPrefix, 0)
	qs := &Qsite{Site: st, PlanStart: 0, PlanEnd: 2}
	s.Enqueue(qs)

	got := s.GetSite()
	got.NewSkey = 0xABCD1234
	s.PutSite(got, 1_000, func(*Qnode) uint32 { return 0 })

	if st.Skey != 0xABCD1234 {
		t.Fatalf("expected site skey to be updated, got %#x", st.Skey)
	}
	next := s.GetSite()
	if next == nil || next.Qnode.Qkey.Skey() != 0xABCD1234 {
		t.Fatalf("expected the migrated qsite to live under the new skey's qnode, got %+v", next)
	}
	if next.Qnode.Qkey.Channel() != 0 {
		t.Fatalf("expected channel forced to 0 on migration, got %d", next.Qnode.Qkey.Channel())
	}
}
