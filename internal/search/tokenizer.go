package search

import (
	"bufio"
	"bytes"
	"strings"
	"unicode/utf8"
)

// Tokenize builds a fresh CorpusIndex from docs. Documents that fail to
// decode are skipped and reported; the rest of the batch is still indexed.
func Tokenize(docs []Document) (*CorpusIndex, []error) {
	corpus := NewCorpusIndex()
	errs := TokenizeInto(corpus, docs)
	return corpus, errs
}

// TokenizeInto appends the tokens of docs to corpus. A document whose ID is
// already present extends that entry instead of replacing it.
func TokenizeInto(corpus *CorpusIndex, docs []Document) []error {
	var errs []error
	for _, doc := range docs {
		tokens, err := TokenizeDocument(doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		corpus.Append(doc.ID, tokens...)
	}
	return errs
}

// TokenizeDocument turns one document into its ordered token sequence,
// reading line by line.
func TokenizeDocument(doc Document) ([]string, error) {
	if !utf8.Valid(doc.Content) {
		return nil, &DecodeError{Document: doc.ID, Offset: invalidOffset(doc.Content)}
	}

	tokens := make([]string, 0)
	scanner := bufio.NewScanner(bytes.NewReader(doc.Content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(doc.Content)+1)
	for scanner.Scan() {
		for _, word := range strings.Fields(scanner.Text()) {
			tokens = append(tokens, Normalize(word))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func invalidOffset(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}
