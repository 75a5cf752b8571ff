package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/net/html"

	"github.com/knowledge-engine/kwic/internal/config"
)

// ErrTooLarge is returned when a response body exceeds the size limit.
var ErrTooLarge = errors.New("response body too large")

// FetchResult contains a downloaded document ready for tokenizing
type FetchResult struct {
	URL         string
	Title       string
	ContentType string
	Content     []byte
	StatusCode  int
	Attempts    int
}

// Gate decides whether a request may be sent now
type Gate interface {
	Wait(ctx context.Context, rawURL string) error
}

type Fetcher struct {
	client    *http.Client
	gate      Gate
	userAgent string
	retries   uint64
	backoff   time.Duration
	maxBytes  int64
}

func NewFetcher(cfg config.FetchConfig, gate Gate, maxBytes int64) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		gate:      gate,
		userAgent: cfg.UserAgent,
		retries:   cfg.MaxRetries,
		backoff:   cfg.RetryBase,
		maxBytes:  maxBytes,
	}
}

// Fetch downloads a document. HTML pages are reduced to their visible text;
// anything else is returned as-is. Network errors, 429 and 5xx responses are
// retried with exponential backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	if f.gate != nil {
		if err := f.gate.Wait(ctx, url); err != nil {
			return nil, err
		}
	}

	result := &FetchResult{URL: url}
	backoff := f.backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	b := retry.WithMaxRetries(f.retries, retry.NewExponential(backoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		result.Attempts++
		return f.fetchOnce(ctx, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, result *FetchResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retry.RetryableError(fmt.Errorf("received status code: %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := f.readBody(resp.Body)
	if err != nil {
		return err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	result.ContentType = mediaType
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		title, text, err := ExtractText(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("parsing error: %w", err)
		}
		result.Title = title
		result.Content = []byte(text)
		return nil
	}
	result.Content = body
	return nil
}

func (f *Fetcher) readBody(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("failed to read body: %w", err))
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	return body, nil
}

// ExtractText returns the page title and the visible text of an HTML
// document, one line per text node.
func ExtractText(body io.Reader) (string, string, error) {
	tokenizer := html.NewTokenizer(body)
	var textBuilder strings.Builder
	var title string
	inScript := false
	inStyle := false
	inTitle := false

	for {
		tokenType := tokenizer.Next()

		switch tokenType {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return title, textBuilder.String(), nil
			}
			return "", "", tokenizer.Err()

		case html.StartTagToken:
			switch tokenizer.Token().Data {
			case "script":
				inScript = true
			case "style":
				inStyle = true
			case "title":
				inTitle = true
			}

		case html.EndTagToken:
			switch tokenizer.Token().Data {
			case "script":
				inScript = false
			case "style":
				inStyle = false
			case "title":
				inTitle = false
			}

		case html.TextToken:
			text := strings.TrimSpace(tokenizer.Token().Data)
			if text == "" {
				continue
			}
			if inTitle {
				title = text
				continue
			}
			if !inScript && !inStyle {
				textBuilder.WriteString(text)
				textBuilder.WriteString("\n")
			}
		}
	}
}
