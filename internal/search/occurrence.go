package search

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWindowSize applies when the caller gives no window, or 0.
	DefaultWindowSize = 3
	// WideWindowMultiplier scales the window for the wide context view.
	WideWindowMultiplier = 19
)

// QuerySpec describes one occurrence lookup
type QuerySpec struct {
	Word       string
	WindowSize int
}

// Window returns the effective window size. Zero and negative values fall
// back to DefaultWindowSize.
func (q QuerySpec) Window() int {
	if q.WindowSize <= 0 {
		return DefaultWindowSize
	}
	return q.WindowSize
}

// Wide returns the same query with the window scaled by WideWindowMultiplier.
func (q QuerySpec) Wide() QuerySpec {
	return QuerySpec{Word: q.Word, WindowSize: q.Window() * WideWindowMultiplier}
}

// OccurrenceRecord is a single hit with its surrounding context
type OccurrenceRecord struct {
	Document string `json:"document"`
	Term     string `json:"term"`
	Position int    `json:"position"`
	Left     string `json:"left"`
	Right    string `json:"right"`
}

// DocumentHits groups the occurrences found in one document
type DocumentHits struct {
	Document    string             `json:"document"`
	Occurrences []OccurrenceRecord `json:"occurrences"`
}

// Results holds per-document hits in corpus order. Documents without a
// match are not present.
type Results struct {
	Query      string         `json:"query"`
	WindowSize int            `json:"window_size"`
	Documents  []DocumentHits `json:"results"`
}

// Get returns the occurrences recorded for id.
func (r *Results) Get(id string) []OccurrenceRecord {
	for _, d := range r.Documents {
		if d.Document == id {
			return d.Occurrences
		}
	}
	return nil
}

// Total counts occurrences across all documents
func (r *Results) Total() int {
	n := 0
	for _, d := range r.Documents {
		n += len(d.Occurrences)
	}
	return n
}

func (r *Results) Empty() bool {
	return len(r.Documents) == 0
}

// Search finds every occurrence of the query word in corpus. A nil or empty
// corpus yields empty results.
func Search(q QuerySpec, corpus *CorpusIndex) *Results {
	word := strings.ToLower(q.Word)
	w := q.Window()
	res := &Results{Query: word, WindowSize: w, Documents: make([]DocumentHits, 0)}

	for _, id := range corpus.IDs() {
		tokens, _ := corpus.Tokens(id)
		if hits := scan(id, tokens, word, w); len(hits) > 0 {
			res.Documents = append(res.Documents, DocumentHits{Document: id, Occurrences: hits})
		}
	}
	return res
}

// SearchWide runs Search with the wide window.
func SearchWide(q QuerySpec, corpus *CorpusIndex) *Results {
	return Search(q.Wide(), corpus)
}

// SearchParallel scans documents concurrently with at most workers
// goroutines. The output matches Search exactly.
func SearchParallel(ctx context.Context, q QuerySpec, corpus *CorpusIndex, workers int) (*Results, error) {
	word := strings.ToLower(q.Word)
	w := q.Window()
	ids := corpus.IDs()
	perDoc := make([][]OccurrenceRecord, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tokens, _ := corpus.Tokens(id)
			perDoc[i] = scan(id, tokens, word, w)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Results{Query: word, WindowSize: w, Documents: make([]DocumentHits, 0)}
	for i, hits := range perDoc {
		if len(hits) > 0 {
			res.Documents = append(res.Documents, DocumentHits{Document: ids[i], Occurrences: hits})
		}
	}
	return res, nil
}

func scan(id string, tokens []string, word string, w int) []OccurrenceRecord {
	var hits []OccurrenceRecord
	n := len(tokens)
	for i, tok := range tokens {
		if tok != word {
			continue
		}
		lo := max(0, i-w)
		hi := min(n, i+w+1)
		hits = append(hits, OccurrenceRecord{
			Document: id,
			Term:     word,
			Position: i,
			Left:     strings.Join(tokens[lo:i], " "),
			Right:    strings.Join(tokens[i+1:hi], " "),
		})
	}
	return hits
}
