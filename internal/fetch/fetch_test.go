package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemdocs/sds-downloader/internal/models"
)

var pdfPayload = []byte("%PDF-1.7 fake body")

func newFetcher(t *testing.T) (*Fetcher, string) {
	t.Helper()
	dir := t.TempDir()
	f := New(&http.Client{Timeout: 5 * time.Second}, dir, nil)
	f.retryInterval = 10 * time.Millisecond
	return f, dir
}

func docFor(url string) *models.DocumentLocator {
	return &models.DocumentLocator{
		RootIdentifier: "A10862",
		Language:       "ko",
		FetchURL:       url,
		Kind:           models.LocatorKindDirect,
	}
}

func TestFetchSavesPDF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfPayload)
	}))
	defer server.Close()

	f, dir := newFetcher(t)
	doc := docFor(server.URL)
	doc.FileName = "A10862_KO.pdf"

	outcome, err := f.Fetch(context.Background(), nil, doc)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSaved, outcome.Status)
	assert.Equal(t, http.StatusOK, outcome.HTTPStatus)
	assert.Equal(t, int64(len(pdfPayload)), outcome.Bytes)
	assert.Equal(t, filepath.Join(dir, "A10862_KO.pdf"), outcome.Path)

	data, err := os.ReadFile(outcome.Path)
	require.NoError(t, err)
	assert.Equal(t, pdfPayload, data)
}

func TestFetchRejectsHTMLChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>verify you are human</body></html>"))
	}))
	defer server.Close()

	f, dir := newFetcher(t)
	outcome, err := f.Fetch(context.Background(), nil, docFor(server.URL))
	require.NoError(t, err)

	assert.Equal(t, models.StatusSkippedBadContentType, outcome.Status)
	assert.Equal(t, "text/html; charset=utf-8", outcome.Metadata["contentType"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "challenge pages must never reach disk")
}

func TestFetchMissingDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f, _ := newFetcher(t)
	outcome, err := f.Fetch(context.Background(), nil, docFor(server.URL))
	require.NoError(t, err)

	assert.Equal(t, models.StatusSkippedMissing, outcome.Status)
	assert.Equal(t, http.StatusNotFound, outcome.HTTPStatus)
}

func TestFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f, _ := newFetcher(t)
	outcome, err := f.Fetch(context.Background(), nil, docFor(server.URL))
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, outcome.Status)
	assert.Equal(t, "HTTP 500", outcome.Metadata["error"])
}

func TestFetchSessionExpiry(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		f, _ := newFetcher(t)
		outcome, err := f.Fetch(context.Background(), nil, docFor(server.URL))

		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.Equal(t, models.StatusFailed, outcome.Status)
		assert.Equal(t, status, outcome.HTTPStatus)
		server.Close()
	}
}

func TestFetchTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	f, _ := newFetcher(t)
	outcome, err := f.Fetch(context.Background(), nil, docFor(server.URL))
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, outcome.Status)
	assert.Equal(t, "transient network error", outcome.Metadata["error"])
}

func TestFetchRetriesTransportErrorOnce(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfPayload)
	}))
	defer server.Close()

	f, _ := newFetcher(t)
	outcome, err := f.Fetch(context.Background(), nil, docFor(server.URL))
	require.NoError(t, err)

	assert.Equal(t, models.StatusSaved, outcome.Status)
	assert.Equal(t, 2, attempts)
}

func TestFetchPostForm(t *testing.T) {
	var gotMethod, gotCode, gotCSRF, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		gotCode = r.PostFormValue("productCode")
		gotCSRF = r.PostFormValue("CSRFToken")
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="L0483_KR_KO.pdf"`)
		w.Write(pdfPayload)
	}))
	defer server.Close()

	f, dir := newFetcher(t)
	doc := &models.DocumentLocator{
		RootIdentifier: "L0483",
		Language:       "ko",
		FetchURL:       server.URL + "/documentSearch/productSDSSearchDoc",
		Kind:           models.LocatorKindAPIResolved,
		Method:         http.MethodPost,
		Form: map[string]string{
			"productCode": "L0483",
			"CSRFToken":   "tok-1",
		},
	}

	outcome, err := f.Fetch(context.Background(), nil, doc)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Contains(t, gotContentType, "application/x-www-form-urlencoded")
	assert.Equal(t, "L0483", gotCode)
	assert.Equal(t, "tok-1", gotCSRF)
	assert.Equal(t, models.StatusSaved, outcome.Status)
	assert.Equal(t, filepath.Join(dir, "L0483_KR_KO.pdf"), outcome.Path)
}

func TestFetchSessionHeadersAndDecorator(t *testing.T) {
	var gotUA, gotDye string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotDye = r.Header.Get("com-tf-dye")
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfPayload)
	}))
	defer server.Close()

	f, _ := newFetcher(t)
	f.SetHeaderDecorator(func(h http.Header) {
		h.Set("com-tf-dye", "fresh-value")
	})

	sess := &models.SessionContext{Headers: map[string]string{"User-Agent": "ua-x"}}
	_, err := f.Fetch(context.Background(), sess, docFor(server.URL))
	require.NoError(t, err)

	assert.Equal(t, "ua-x", gotUA)
	assert.Equal(t, "fresh-value", gotDye)
}

func TestFetchOverwriteIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdfPayload)
	}))
	defer server.Close()

	f, dir := newFetcher(t)
	doc := docFor(server.URL)
	doc.FileName = "A10862_KO.pdf"

	for i := 0; i < 2; i++ {
		outcome, err := f.Fetch(context.Background(), nil, doc)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSaved, outcome.Status)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileNamePreference(t *testing.T) {
	f, _ := newFetcher(t)

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Content-Disposition", `attachment; filename="server.pdf"`)

	named := docFor("http://x")
	named.FileName = "resolver.pdf"
	assert.Equal(t, "resolver.pdf", f.fileName(named, resp))

	unnamed := docFor("http://x")
	assert.Equal(t, "server.pdf", f.fileName(unnamed, resp))

	resp.Header.Del("Content-Disposition")
	assert.Equal(t, "A10862_ko.pdf", f.fileName(unnamed, resp))
}

func TestDispositionFileName(t *testing.T) {
	assert.Equal(t, "a.pdf", dispositionFileName(`attachment; filename="a.pdf"`))
	assert.Equal(t, "b.pdf", dispositionFileName(`attachment; filename="../../b.pdf"`))
	assert.Equal(t, "", dispositionFileName("attachment"))
	assert.Equal(t, "", dispositionFileName(""))
}

func TestIsBinaryDocument(t *testing.T) {
	assert.True(t, IsBinaryDocument("application/pdf"))
	assert.True(t, IsBinaryDocument("application/octet-stream"))
	assert.True(t, IsBinaryDocument("Application/PDF; charset=binary"))
	assert.False(t, IsBinaryDocument("text/html"))
	assert.False(t, IsBinaryDocument("application/xhtml+xml"))
	assert.False(t, IsBinaryDocument("application/json"))
	assert.False(t, IsBinaryDocument(""))
}
