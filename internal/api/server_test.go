package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/kwic/internal/api"
	"github.com/knowledge-engine/kwic/internal/config"
	"github.com/knowledge-engine/kwic/internal/engine"
	"github.com/knowledge-engine/kwic/internal/storage"
)

func setupServer(t *testing.T) *api.Server {
	t.Helper()
	cfg := config.Load()
	cfg.Session.TTL = time.Hour
	cfg.Search.DefaultWindowSize = 3
	cfg.Upload.AllowedExtensions = []string{".txt"}
	cfg.Upload.MaxTotalBytes = 1024
	cfg.Upload.MaxFileBytes = 1024
	cfg.Politeness.EnableRobotsCheck = false
	cfg.Politeness.MinDelay = 0
	cfg.Fetch.MaxRetries = 0

	logger := logrus.New().WithField("test", "api")
	eng, err := engine.NewEngine(cfg, logger, storage.NewMemoryStorage())
	require.NoError(t, err)
	return api.NewServer(eng, logger)
}

func multipartBody(t *testing.T, files map[string]string, order ...string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, name := range order {
		part, err := w.CreateFormFile("file[]", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func uploadDocs(t *testing.T, server *api.Server, path string, files map[string]string, order ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files, order...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "kwic_session" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestUploadThenSearch(t *testing.T) {
	server := setupServer(t)

	rr := uploadDocs(t, server, "/api/v1/documents", map[string]string{
		"a.txt": "Hello, world! Hello again.",
		"b.txt": "nothing to see",
	}, "a.txt", "b.txt")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var up api.UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))
	assert.Equal(t, []string{"a.txt", "b.txt"}, up.Files)
	assert.Equal(t, 2, up.Documents)
	assert.Equal(t, 7, up.Tokens)
	cookie := sessionCookie(t, rr)
	assert.Equal(t, up.SessionID, cookie.Value)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q_word=HELLO&window_size=1", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Query      string `json:"query"`
		WindowSize int    `json:"window_size"`
		Total      int    `json:"total"`
		Results    []struct {
			Document    string `json:"document"`
			Occurrences []struct {
				Term  string `json:"term"`
				Left  string `json:"left"`
				Right string `json:"right"`
			} `json:"occurrences"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "hello", resp.Query)
	assert.Equal(t, 1, resp.WindowSize)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a.txt", resp.Results[0].Document)
	assert.Equal(t, "", resp.Results[0].Occurrences[0].Left)
	assert.Equal(t, "world", resp.Results[0].Occurrences[0].Right)
	assert.Equal(t, "world", resp.Results[0].Occurrences[1].Left)
	assert.Equal(t, "again", resp.Results[0].Occurrences[1].Right)
}

func TestSearch_WideAndHeaderSession(t *testing.T) {
	server := setupServer(t)
	words := make([]string, 0, 80)
	for i := 0; i < 40; i++ {
		words = append(words, "pad")
	}
	words = append(words, "target")
	for i := 0; i < 40; i++ {
		words = append(words, "pad")
	}
	rr := uploadDocs(t, server, "/api/v1/documents", map[string]string{"long.txt": strings.Join(words, " ")}, "long.txt")
	require.Equal(t, http.StatusCreated, rr.Code)
	var up api.UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q_word=target&window_size=0&wide=true", nil)
	req.Header.Set(api.SessionHeader, up.SessionID)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.SearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 57, resp.WindowSize)
	require.Len(t, resp.Documents, 1)
	assert.Len(t, strings.Fields(resp.Documents[0].Occurrences[0].Left), 40)
}

func TestSearch_NoSession(t *testing.T) {
	server := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q_word=anything", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp api.SearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Total)
	assert.Empty(t, resp.Documents)
}

func TestUpload_Rejected(t *testing.T) {
	server := setupServer(t)

	rr := uploadDocs(t, server, "/api/v1/documents", map[string]string{"evil.sh": "rm -rf /"}, "evil.sh")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = uploadDocs(t, server, "/api/v1/documents", map[string]string{"big.txt": strings.Repeat("a ", 600)}, "big.txt")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader("not multipart"))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestUpload_InvalidUTF8Reported(t *testing.T) {
	server := setupServer(t)

	rr := uploadDocs(t, server, "/api/v1/documents", map[string]string{
		"good.txt":   "fine words",
		"latin1.txt": "caf\xe9 au lait",
	}, "good.txt", "latin1.txt")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var up api.UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))
	assert.Equal(t, 1, up.Documents)
	require.Len(t, up.Errors, 1)
	assert.Equal(t, "latin1.txt", up.Errors[0].Document)
}

func TestSessionLifecycle(t *testing.T) {
	server := setupServer(t)

	rr := uploadDocs(t, server, "/api/v1/documents", map[string]string{"a.txt": "one two", "b.txt": "three"}, "a.txt", "b.txt")
	require.Equal(t, http.StatusCreated, rr.Code)
	cookie := sessionCookie(t, rr)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var info api.SessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, cookie.Value, info.ID)
	assert.Equal(t, []api.DocumentInfo{{ID: "a.txt", Tokens: 2}, {ID: "b.txt", Tokens: 1}}, info.Documents)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestReuploadReplacesSession(t *testing.T) {
	server := setupServer(t)

	rr := uploadDocs(t, server, "/api/v1/documents", map[string]string{"a.txt": "first"}, "a.txt")
	first := sessionCookie(t, rr)

	body, contentType := multipartBody(t, map[string]string{"b.txt": "second"}, "b.txt")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(first)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	second := sessionCookie(t, rr)
	assert.NotEqual(t, first.Value, second.Value)

	_, err := server.Engine.Session(req.Context(), first.Value)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestFetchDocuments(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("remote text with a keyword inside"))
	}))
	defer remote.Close()

	server := setupServer(t)

	body := strings.NewReader(`{"urls": ["` + remote.URL + `/doc.txt"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/fetch", body)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var up api.UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &up))
	assert.Equal(t, 6, up.Tokens)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents/fetch", strings.NewReader("{"))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents/fetch", strings.NewReader(`{"urls": []}`))
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHTMLPages(t *testing.T) {
	server := setupServer(t)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `name="file[]"`)

	rr = uploadDocs(t, server, "/upload", map[string]string{"story.txt": "Once <upon> a time"}, "story.txt")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<li>story.txt</li>")
	cookie := sessionCookie(t, rr)

	req := httptest.NewRequest(http.MethodGet, "/search?q_word=upon&window_size=1", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `once <span class="term">upon</span> a`)

	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleStatus(t *testing.T) {
	server := setupServer(t)

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp api.StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Running)
	assert.Equal(t, "memory", resp.Storage)
	assert.Equal(t, 0, resp.Sessions)
}
