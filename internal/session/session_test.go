package session_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/kwic/internal/search"
	"github.com/knowledge-engine/kwic/internal/session"
)

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := session.New("id", nil, nil, now, time.Minute)

	assert.False(t, s.Expired(now))
	assert.Equal(t, time.Minute, s.TTL(now))
	assert.True(t, s.Expired(now.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), s.TTL(now.Add(2*time.Minute)))
	assert.NotNil(t, s.Corpus)
}

func TestSessionJSONRoundTrip(t *testing.T) {
	corpus := search.NewCorpusIndex()
	corpus.Append("b.txt", "beta")
	corpus.Append("a.txt", "alpha", "")

	now := time.Now().UTC().Truncate(time.Second)
	s := session.New("abc", []string{"b.txt", "a.txt"}, corpus, now, time.Hour)
	s.AddDiagnostic("c.txt", errors.New("bad bytes"))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded session.Session
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "abc", decoded.ID)
	assert.Equal(t, []string{"b.txt", "a.txt"}, decoded.Corpus.IDs())
	assert.Equal(t, []session.Diagnostic{{Document: "c.txt", Error: "bad bytes"}}, decoded.Diagnostics)
	assert.True(t, decoded.ExpiresAt.Equal(s.ExpiresAt))
}
