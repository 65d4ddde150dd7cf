// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"sync"
	"time"

	"github.com/zumanm1/MAP-LINK-LONG-LANG/sheet"
)

// SessionStatus is the lifecycle state of an upload.
type SessionStatus string

// Session states.
const (
	StatusUploaded   SessionStatus = "uploaded"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Session tracks one uploaded workbook until it expires.
type Session struct {
	ID         string
	Filename   string
	UploadPath string
	MapColumn  string
	TotalRows  int
	CreatedAt  time.Time

	// processing is held for the whole run of a process request.
	processing sync.Mutex

	mu            sync.Mutex
	status        SessionStatus
	processedPath string
	summary       *sheet.Summary
}

func (s *Session) setStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
}

func (s *Session) complete(processedPath string, summary *sheet.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusCompleted
	s.processedPath = processedPath
	s.summary = summary
}

// Status returns the session state and, once completed, the processed file.
func (s *Session) Status() (SessionStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status, s.processedPath
}

// SessionStore keeps sessions by id.
type SessionStore interface {
	Put(s *Session)
	Get(id string) (*Session, bool)
	// Expire removes and returns the sessions created before deadline.
	// Sessions with a process request in flight are kept.
	Expire(deadline time.Time) []*Session
}

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemorySessions returns an in-memory SessionStore.
func NewMemorySessions() SessionStore {
	return &memorySessions{sessions: make(map[string]*Session)}
}

func (m *memorySessions) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s
}

func (m *memorySessions) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]

	return s, ok
}

func (m *memorySessions) Expire(deadline time.Time) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Session

	for id, s := range m.sessions {
		if !s.CreatedAt.Before(deadline) {
			continue
		}

		if !s.processing.TryLock() {
			continue
		}
		s.processing.Unlock()

		expired = append(expired, s)
		delete(m.sessions, id)
	}

	return expired
}
