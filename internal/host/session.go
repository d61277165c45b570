// Package host implements the orchestration host a build reports into.
package host

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/logger"
	"jenkinsrun/internal/storage"
	"jenkinsrun/internal/storage/models"
)

// Store persists output values and invocation history
type Store interface {
	SaveOutputValue(scope, key string, value interface{}) error
	ReadOutputValue(scope, key string) (interface{}, error)
	InsertInvocation(inv models.Invocation) error
	FinishInvocation(id string, buildNumber int, result, errMsg string, finishedAt time.Time) error
}

// SQLiteStore is the Store backed by the storage package
type SQLiteStore struct{}

func (SQLiteStore) SaveOutputValue(scope, key string, value interface{}) error {
	return storage.SaveOutputValue(scope, key, value)
}

func (SQLiteStore) ReadOutputValue(scope, key string) (interface{}, error) {
	return storage.ReadOutputValue(scope, key)
}

func (SQLiteStore) InsertInvocation(inv models.Invocation) error {
	return storage.InsertInvocation(inv)
}

func (SQLiteStore) FinishInvocation(id string, buildNumber int, result, errMsg string, finishedAt time.Time) error {
	return storage.FinishInvocation(id, buildNumber, result, errMsg, finishedAt)
}

// Link is a labelled URL the build reported
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Session is the host of one invocation. Output values are scoped by job so
// a later invocation of the same job sees what an earlier one saved.
type Session struct {
	id    string
	job   string
	store Store

	mu        sync.Mutex
	out       io.Writer
	buf       bytes.Buffer
	links     []Link
	notNeeded bool
}

var _ engine.Host = (*Session)(nil)

// NewSession creates a session for job. Console output is copied to out
// when it is not nil.
func NewSession(job string, store Store, out io.Writer) *Session {
	return &Session{
		id:    uuid.NewString(),
		job:   job,
		store: store,
		out:   out,
	}
}

// ID returns the invocation id
func (s *Session) ID() string {
	return s.id
}

// WriteOutput appends text to the invocation output
func (s *Session) WriteOutput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.WriteString(text)
	if s.out != nil {
		if _, err := io.WriteString(s.out, text); err != nil {
			logger.Warn("Failed to copy build output", "invocation_id", s.id, "error", err)
		}
	}
}

// SaveOutputValue persists value under key for this job
func (s *Session) SaveOutputValue(key string, value interface{}) error {
	return s.store.SaveOutputValue(s.job, key, value)
}

// ReadOutputValue returns what was saved under key for this job, or nil
func (s *Session) ReadOutputValue(key string) (interface{}, error) {
	return s.store.ReadOutputValue(s.job, key)
}

// NotNeeded marks the invocation as having nothing to do
func (s *Session) NotNeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notNeeded = true
}

// AddLink records a labelled URL
func (s *Session) AddLink(label, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, Link{Label: label, URL: url})
}

// Output returns everything written so far
func (s *Session) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Links returns the links added so far
func (s *Session) Links() []Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Link, len(s.links))
	copy(out, s.links)
	return out
}

// IsNotNeeded reports whether the build said there was nothing to do
func (s *Session) IsNotNeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notNeeded
}
