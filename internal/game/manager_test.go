package game

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newManagedSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		GameType:       PlayerGuesses,
		SecretTitle:    "Portal",
		QuestionBudget: 20,
		Status:         StatusActive,
		History:        []Exchange{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestNewManager(t *testing.T) {
	m := NewManager()
	if m.sessions == nil {
		t.Fatal("sessions map should be initialized")
	}
	if m.Len() != 0 {
		t.Fatal("manager should start empty")
	}
}

func TestManagerAddGet(t *testing.T) {
	m := NewManager()
	m.Add(newManagedSession("abc"))

	s, err := m.Get("abc")
	if err != nil {
		t.Fatalf("should be able to retrieve added session: %v", err)
	}
	if s.SecretTitle != "Portal" {
		t.Fatalf("expected secret Portal, got %s", s.SecretTitle)
	}

	// Snapshots must not alias the stored session
	s.History = append(s.History, Exchange{Question: "Is it old?", Answer: "No"})
	again, _ := m.Get("abc")
	if len(again.History) != 0 {
		t.Fatalf("snapshot leaked into stored session: %d exchanges", len(again.History))
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerDo(t *testing.T) {
	m := NewManager()
	m.Add(newManagedSession("abc"))

	s, err := m.Do("abc", func(s *Session) error {
		s.QuestionCount++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.QuestionCount != 1 {
		t.Fatalf("expected question count 1, got %d", s.QuestionCount)
	}

	boom := errors.New("boom")
	s, err = m.Do("abc", func(s *Session) error {
		s.QuestionCount++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to be returned, got %v", err)
	}
	if s.QuestionCount != 2 {
		t.Fatalf("snapshot should reflect changes made before the error, got %d", s.QuestionCount)
	}

	if _, err := m.Do("missing", func(*Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManagerDoSerialisesSession(t *testing.T) {
	m := NewManager()
	m.Add(newManagedSession("abc"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Do("abc", func(s *Session) error {
				s.QuestionCount++
				return nil
			})
		}()
	}
	wg.Wait()

	s, _ := m.Get("abc")
	if s.QuestionCount != 50 {
		t.Fatalf("expected 50 serialised rounds, got %d", s.QuestionCount)
	}
}

func TestManagerFinishHooksFireOnce(t *testing.T) {
	var finished []Session
	m := NewManager(func(s Session) { finished = append(finished, s) })
	m.Add(newManagedSession("abc"))

	m.Do("abc", func(s *Session) error { return nil })
	if len(finished) != 0 {
		t.Fatal("hook should not fire for an active session")
	}

	m.Do("abc", func(s *Session) error {
		s.Status = StatusWon
		return nil
	})
	m.Do("abc", func(s *Session) error { return ErrSessionOver })
	if len(finished) != 1 {
		t.Fatalf("expected hook to fire once, fired %d times", len(finished))
	}
	if finished[0].Status != StatusWon {
		t.Fatalf("expected won snapshot, got %s", finished[0].Status)
	}
}

func TestManagerAddTerminalSessionFiresHooks(t *testing.T) {
	count := 0
	m := NewManager()
	m.OnFinish(func(Session) { count++ })

	s := newManagedSession("failed")
	s.Status = StatusLost
	s.Failure = "secret reply: no JSON object in reply"
	m.Add(s)

	if count != 1 {
		t.Fatalf("expected hook to fire on add, fired %d times", count)
	}
}

func TestManagerReap(t *testing.T) {
	m := NewManager()
	old := newManagedSession("old")
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	m.Add(old)
	m.Add(newManagedSession("fresh"))

	if n := m.Reap(time.Now(), time.Hour); n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
	if _, err := m.Get("old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("old session should be gone")
	}
	if _, err := m.Get("fresh"); err != nil {
		t.Fatalf("fresh session should remain: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", m.Len())
	}
}
