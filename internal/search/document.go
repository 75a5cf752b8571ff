package search

import (
	"fmt"
	"strings"
)

// Document is a named blob of raw text handed over by the caller
type Document struct {
	ID      string
	Content []byte
}

// DecodeError reports a document whose bytes are not valid UTF-8.
type DecodeError struct {
	Document string
	Offset   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("document %q: invalid utf-8 at byte %d", e.Document, e.Offset)
}

const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var punctStripper = func() *strings.Replacer {
	pairs := make([]string, 0, len(punctuation)*2)
	for _, c := range punctuation {
		pairs = append(pairs, string(c), "")
	}
	return strings.NewReplacer(pairs...)
}()

// RemovePunct drops every ASCII punctuation character from s
func RemovePunct(s string) string {
	return punctStripper.Replace(s)
}

// Normalize folds a single word into its token form. Words made only of
// punctuation come back as "".
func Normalize(word string) string {
	return RemovePunct(strings.ToLower(word))
}
