package search

import (
	"encoding/json"
	"fmt"
)

// CorpusIndex maps document identifiers to their token sequences and keeps
// the order in which identifiers were first inserted.
type CorpusIndex struct {
	order  []string
	tokens map[string][]string
}

// NewCorpusIndex returns an empty index
func NewCorpusIndex() *CorpusIndex {
	return &CorpusIndex{tokens: make(map[string][]string)}
}

// Append inserts tokens under id, or extends the existing sequence when id
// is already present.
func (c *CorpusIndex) Append(id string, tokens ...string) {
	if c.tokens == nil {
		c.tokens = make(map[string][]string)
	}
	existing, ok := c.tokens[id]
	if !ok {
		c.order = append(c.order, id)
		existing = make([]string, 0, len(tokens))
	}
	c.tokens[id] = append(existing, tokens...)
}

// Tokens returns the sequence stored under id.
func (c *CorpusIndex) Tokens(id string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.tokens[id]
	return t, ok
}

// IDs returns document identifiers in insertion order.
func (c *CorpusIndex) IDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	return ids
}

func (c *CorpusIndex) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// TokenCount is the total number of tokens across all documents
func (c *CorpusIndex) TokenCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, t := range c.tokens {
		n += len(t)
	}
	return n
}

type corpusEntry struct {
	ID     string   `json:"id"`
	Tokens []string `json:"tokens"`
}

// MarshalJSON encodes the index as an ordered array so that storage round
// trips keep document order.
func (c *CorpusIndex) MarshalJSON() ([]byte, error) {
	entries := make([]corpusEntry, 0, c.Len())
	for _, id := range c.IDs() {
		entries = append(entries, corpusEntry{ID: id, Tokens: c.tokens[id]})
	}
	return json.Marshal(entries)
}

func (c *CorpusIndex) UnmarshalJSON(data []byte) error {
	var entries []corpusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode corpus index: %w", err)
	}
	c.order = nil
	c.tokens = make(map[string][]string, len(entries))
	for _, e := range entries {
		c.Append(e.ID, e.Tokens...)
	}
	return nil
}
