package session

import (
	"time"

	"github.com/knowledge-engine/kwic/internal/search"
)

// Diagnostic records a document that could not be ingested
type Diagnostic struct {
	Document string `json:"document"`
	Error    string `json:"error"`
}

// Session is one user's snapshot of uploaded documents. It is created on
// upload and never mutated afterwards; a new upload replaces the session.
type Session struct {
	ID          string              `json:"id"`
	Files       []string            `json:"files"`
	Corpus      *search.CorpusIndex `json:"corpus"`
	Diagnostics []Diagnostic        `json:"diagnostics,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// New builds a session that expires ttl after now
func New(id string, files []string, corpus *search.CorpusIndex, now time.Time, ttl time.Duration) *Session {
	if corpus == nil {
		corpus = search.NewCorpusIndex()
	}
	return &Session{
		ID:        id,
		Files:     files,
		Corpus:    corpus,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// AddDiagnostic records that document was skipped because of err
func (s *Session) AddDiagnostic(document string, err error) {
	s.Diagnostics = append(s.Diagnostics, Diagnostic{Document: document, Error: err.Error()})
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TTL is the remaining lifetime relative to now, never negative
func (s *Session) TTL(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
