// Command kwic searches local text files for a word and prints every
// occurrence with its surrounding context.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/kwic/internal/config"
	"github.com/knowledge-engine/kwic/internal/search"
	"github.com/knowledge-engine/kwic/internal/upload"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kwic", flag.ContinueOnError)
	fs.SetOutput(stderr)
	word := fs.String("q", "", "word to search for")
	window := fs.Int("w", 0, "context tokens on each side (0 means 3)")
	wide := fs.Bool("wide", false, "use the wide context window")
	workers := fs.Int("workers", 0, "scan documents in parallel with this many workers")
	anyExt := fs.Bool("any-ext", false, "accept files regardless of extension")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: kwic -q word [-w N] [-wide] file...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logger.WithField("service", "kwic-cli")

	validator := upload.NewValidator(config.Load().Upload)
	var docs []search.Document
	for _, path := range fs.Args() {
		if !*anyExt {
			if err := validator.CheckName(filepath.Base(path)); err != nil {
				log.WithError(err).Warn("Skipping file")
				continue
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Error("Failed to read file")
			return 1
		}
		docs = append(docs, search.Document{ID: path, Content: data})
	}

	corpus, errs := search.Tokenize(docs)
	for _, err := range errs {
		log.WithError(err).Warn("Skipped document")
	}
	log.WithFields(logrus.Fields{"documents": corpus.Len(), "tokens": corpus.TokenCount()}).Debug("Corpus built")

	q := search.QuerySpec{Word: *word, WindowSize: *window}
	if *wide {
		q = q.Wide()
	}
	res, err := search.SearchParallel(context.Background(), q, corpus, *workers)
	if err != nil {
		log.WithError(err).Error("Search failed")
		return 1
	}

	for _, d := range res.Documents {
		for _, o := range d.Occurrences {
			fmt.Fprintf(stdout, "%s: %s [%s] %s\n", d.Document, o.Left, o.Term, o.Right)
		}
	}
	if res.Empty() {
		return 1
	}
	return 0
}
