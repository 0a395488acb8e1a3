package services

import (
	"context"
	"errors"
	"sync"

	"github.com/tbourn/doxyme-slack-calling/internal/domain"
	"github.com/tbourn/doxyme-slack-calling/internal/notify"
)

type memStore struct {
	mu     sync.Mutex
	m      map[string]domain.RoomMapping
	getErr error
	setErr error
	sets   int
}

func newMemStore() *memStore { return &memStore{m: map[string]domain.RoomMapping{}} }

func (s *memStore) Get(_ context.Context, userID string) (*domain.RoomMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.m[userID]
	if !ok {
		return nil, nil
	}
	rec.UserID = userID
	return &rec, nil
}

func (s *memStore) Set(_ context.Context, userID, roomURL string) (*domain.RoomMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return nil, s.setErr
	}
	rec := domain.RoomMapping{UserID: userID, RoomURL: roomURL}
	s.m[userID] = rec
	return &rec, nil
}

type stubInviter struct {
	name     string
	fail     map[string]bool
	gotName  string
	gotRoom  string
	gotUsers []string
	calls    int
}

func (f *stubInviter) CallerName(context.Context, string) string { return f.name }

func (f *stubInviter) InviteAll(_ context.Context, recipients []string, callerName, roomURL string) notify.Report {
	f.calls++
	f.gotName, f.gotRoom, f.gotUsers = callerName, roomURL, recipients
	rep := notify.Report{Errors: map[string]error{}}
	for _, u := range recipients {
		if f.fail[u] {
			rep.Failed = append(rep.Failed, u)
			rep.Errors[u] = errors.New("cannot_dm_bot")
			continue
		}
		rep.Sent = append(rep.Sent, u)
	}
	return rep
}

type stubLedger struct {
	seen map[string]bool
	err  error
}

func (l *stubLedger) Record(_ context.Context, eventID, _, _ string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.seen == nil {
		l.seen = map[string]bool{}
	}
	if l.seen[eventID] {
		return false, nil
	}
	l.seen[eventID] = true
	return true, nil
}

func roomFor(u string) domain.RoomMapping { return domain.RoomMapping{RoomURL: u} }

func notifyReport(sent, failed []string) notify.Report {
	return notify.Report{Sent: sent, Failed: failed}
}
