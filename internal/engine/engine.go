package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/knowledge-engine/kwic/internal/config"
	"github.com/knowledge-engine/kwic/internal/fetcher"
	"github.com/knowledge-engine/kwic/internal/politeness"
	"github.com/knowledge-engine/kwic/internal/search"
	"github.com/knowledge-engine/kwic/internal/session"
	"github.com/knowledge-engine/kwic/internal/storage"
	"github.com/knowledge-engine/kwic/internal/upload"
)

var (
	ErrNoURLs       = errors.New("no urls given")
	ErrTooManyURLs  = errors.New("too many urls")
	ErrNothingFound = errors.New("no document could be fetched")
)

// Engine ties ingestion, session storage and search together
type Engine struct {
	Config     *config.Config
	Logger     *logrus.Entry
	Storage    storage.SessionStorage
	Validator  *upload.Validator
	Politeness *politeness.Manager
	Fetcher    *fetcher.Fetcher

	// State
	isRunning   bool
	mu          sync.RWMutex
	cancelSweep context.CancelFunc
	sweepDone   chan struct{}

	now   func() time.Time
	newID func() string

	// Stats
	Stats EngineStats
}

type EngineStats struct {
	SessionsCreated int64
	Searches        int64
	SessionsExpired int64
	StartTime       time.Time
}

func NewEngine(cfg *config.Config, logger *logrus.Entry, store storage.SessionStorage) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: session storage is required")
	}
	pm := politeness.NewManager(cfg.Politeness, cfg.Fetch.UserAgent, nil, logger.WithField("component", "politeness"))
	ft := fetcher.NewFetcher(cfg.Fetch, pm, cfg.Upload.MaxFileBytes)

	return &Engine{
		Config:     cfg,
		Logger:     logger,
		Storage:    store,
		Validator:  upload.NewValidator(cfg.Upload),
		Politeness: pm,
		Fetcher:    ft,
		now:        time.Now,
		newID:      uuid.NewString,
		Stats:      EngineStats{StartTime: time.Now()},
	}, nil
}

// Ingest tokenizes docs into a new session and stores it. Documents that
// fail to decode are recorded as diagnostics on the session.
func (e *Engine) Ingest(ctx context.Context, docs []search.Document) (*session.Session, error) {
	corpus, errs := search.Tokenize(docs)

	files := make([]string, 0, len(docs))
	for _, d := range docs {
		files = append(files, d.ID)
	}

	s := session.New(e.newID(), files, corpus, e.now(), e.Config.Session.TTL)
	for _, err := range errs {
		var decodeErr *search.DecodeError
		if errors.As(err, &decodeErr) {
			s.AddDiagnostic(decodeErr.Document, err)
		} else {
			s.AddDiagnostic("", err)
		}
		e.Logger.WithError(err).Warn("Skipped document")
	}

	if err := e.Storage.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	e.mu.Lock()
	e.Stats.SessionsCreated++
	e.mu.Unlock()

	e.Logger.WithFields(logrus.Fields{
		"session":   s.ID,
		"documents": corpus.Len(),
		"tokens":    corpus.TokenCount(),
		"skipped":   len(errs),
	}).Info("Session created")
	return s, nil
}

// IngestURLs fetches remote documents concurrently and ingests them as one
// session, keeping the order of urls. Failed fetches become diagnostics.
func (e *Engine) IngestURLs(ctx context.Context, urls []string) (*session.Session, error) {
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	if limit := e.Config.Fetch.MaxURLs; limit > 0 && len(urls) > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyURLs, len(urls), limit)
	}

	results := make([]*fetcher.FetchResult, len(urls))
	fetchErrs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	if c := e.Config.Fetch.Concurrency; c > 0 {
		g.SetLimit(c)
	}
	for i, u := range urls {
		g.Go(func() error {
			res, err := e.Fetcher.Fetch(gctx, u)
			if err != nil {
				e.Logger.WithError(err).WithField("url", u).Warn("Fetch failed")
				fetchErrs[i] = err
				return nil
			}
			if err := upload.CheckContent(u, res.Content); err != nil {
				fetchErrs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []search.Document
	for _, res := range results {
		if res != nil {
			docs = append(docs, search.Document{ID: res.URL, Content: res.Content})
		}
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNothingFound, errors.Join(fetchErrs...))
	}

	s, err := e.Ingest(ctx, docs)
	if err != nil {
		return nil, err
	}
	for i, err := range fetchErrs {
		if err != nil {
			s.AddDiagnostic(urls[i], err)
		}
	}
	if len(s.Diagnostics) > 0 {
		if err := e.Storage.Save(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to save session: %w", err)
		}
	}
	return s, nil
}

// Session loads the session stored under id
func (e *Engine) Session(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return nil, storage.ErrSessionNotFound
	}
	return e.Storage.Get(ctx, id)
}

// Search looks the word up in the session's corpus. An unknown or expired
// session behaves like an empty corpus.
func (e *Engine) Search(ctx context.Context, sessionID string, q search.QuerySpec, wide bool) (*search.Results, error) {
	if q.WindowSize <= 0 {
		q.WindowSize = e.Config.Search.DefaultWindowSize
	}
	if wide {
		q = q.Wide()
	}

	var corpus *search.CorpusIndex
	s, err := e.Session(ctx, sessionID)
	switch {
	case err == nil:
		corpus = s.Corpus
	case errors.Is(err, storage.ErrSessionNotFound):
		corpus = search.NewCorpusIndex()
	default:
		return nil, err
	}

	e.mu.Lock()
	e.Stats.Searches++
	e.mu.Unlock()

	if workers := e.Config.Search.ParallelWorkers; workers > 1 && corpus.Len() > 1 {
		return search.SearchParallel(ctx, q, corpus, workers)
	}
	return search.Search(q, corpus), nil
}

// EndSession discards the session
func (e *Engine) EndSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := e.Storage.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	e.Logger.WithField("session", id).Info("Session ended")
	return nil
}

// Start launches the background sweeper that drops expired sessions.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("engine is already running")
	}
	interval := e.Config.Session.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelSweep = cancel
	e.sweepDone = make(chan struct{})
	e.isRunning = true

	go e.runSweeper(ctx, interval, e.sweepDone)
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return
	}
	e.cancelSweep()
	done := e.sweepDone
	e.isRunning = false
	e.mu.Unlock()

	<-done
}

func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// Sweep removes expired sessions once
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.now()
	removed, err := e.Storage.Sweep(ctx, now)
	if err != nil {
		return removed, err
	}
	e.Politeness.Cleanup(now)

	if removed > 0 {
		e.mu.Lock()
		e.Stats.SessionsExpired += int64(removed)
		e.mu.Unlock()
		e.Logger.WithField("removed", removed).Debug("Expired sessions swept")
	}
	return removed, nil
}

func (e *Engine) runSweeper(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.Logger.WithError(err).Error("Session sweep failed")
			}
		}
	}
}

// GetStats returns a copy of the engine counters
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Stats
}
