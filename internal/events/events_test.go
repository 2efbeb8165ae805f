package events

import (
	"errors"
	"testing"

	"ftp_bridge/internal/ftperr"
)

func TestStoreTracksLifecycle(t *testing.T) {
	s := NewStore(0)
	s.Progress("a=>b", 0)
	s.Progress("a=>b", 42)

	snap, ok := s.Get("a=>b")
	if !ok || snap.State != StateRunning || snap.Percentage != 42 {
		t.Fatalf("expected running at 42, got %+v", snap)
	}

	s.Finished("a=>b", nil)
	if snap, _ := s.Get("a=>b"); snap.State != StateCompleted {
		t.Errorf("expected completed, got %s", snap.State)
	}

	s.Finished("c<=d", ftperr.E(ftperr.ErrCancelled, "download", "d", nil))
	if snap, _ := s.Get("c<=d"); snap.State != StateCancelled {
		t.Errorf("expected cancelled, got %s", snap.State)
	}

	s.Finished("e=>f", errors.New("boom"))
	if snap, _ := s.Get("e=>f"); snap.State != StateFailed || snap.Err == nil {
		t.Errorf("expected failed with error, got %+v", snap)
	}
}

func TestStoreRestartResetsState(t *testing.T) {
	s := NewStore(0)
	s.Progress("t", 100)
	s.Finished("t", nil)
	s.Progress("t", 0)

	snap, _ := s.Get("t")
	if snap.State != StateRunning || snap.Percentage != 0 || snap.Err != nil {
		t.Errorf("expected fresh running snapshot, got %+v", snap)
	}
}

func TestStoreEvictsOldFinished(t *testing.T) {
	s := NewStore(2)
	for _, tok := range []string{"1", "2", "3"} {
		s.Progress(tok, 100)
		s.Finished(tok, nil)
	}
	if _, ok := s.Get("1"); ok {
		t.Error("expected oldest finished transfer to be evicted")
	}
	if _, ok := s.Get("3"); !ok {
		t.Error("expected newest transfer to be kept")
	}
}

func TestStoreKeepsReusedToken(t *testing.T) {
	s := NewStore(2)
	for _, tok := range []string{"a", "b", "a", "c"} {
		s.Progress(tok, 100)
		s.Finished(tok, nil)
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("expected reused token to be kept")
	}
	if _, ok := s.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := s.Get("c"); !ok {
		t.Error("expected newest transfer to be kept")
	}
}

func TestMultiAndFuncs(t *testing.T) {
	var got []int
	var finished int
	sink := Multi{
		Discard{},
		Funcs{
			OnProgress: func(_ string, p int) { got = append(got, p) },
			OnFinished: func(string, error) { finished++ },
		},
	}
	sink.Progress("t", 10)
	sink.Progress("t", 20)
	sink.Finished("t", nil)

	if len(got) != 2 || got[1] != 20 {
		t.Errorf("expected [10 20], got %v", got)
	}
	if finished != 1 {
		t.Errorf("expected 1 finish, got %d", finished)
	}
}
