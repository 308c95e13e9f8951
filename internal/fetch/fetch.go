// Package fetch performs the binary download for a resolved document
// location and classifies the result. The content-type check is the
// authoritative success signal: bot-mitigation layers frequently serve an
// HTML challenge page with status 200, and such a payload must never be
// written to disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chemdocs/sds-downloader/internal/models"
)

// ErrSessionExpired signals an auth-style rejection (401/403) mid-run. The
// pipeline reacts with at most one session refresh and one retry.
var ErrSessionExpired = errors.New("session expired")

// Fetcher downloads documents into a single output directory.
type Fetcher struct {
	client        *http.Client
	outputDir     string
	logger        *slog.Logger
	retryInterval time.Duration
	decorate      func(http.Header)
}

func New(client *http.Client, outputDir string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:        client,
		outputDir:     outputDir,
		logger:        logger.With("component", "fetcher"),
		retryInterval: 2 * time.Second,
	}
}

// SetHeaderDecorator installs a hook run on every request attempt, used by
// providers whose endpoints want headers minted fresh per HTTP call.
func (f *Fetcher) SetHeaderDecorator(fn func(http.Header)) {
	f.decorate = fn
}

// Fetch downloads doc and returns exactly one outcome. The error return is
// non-nil only for the session-expiry signal; every other condition is
// encoded in the outcome status.
func (f *Fetcher) Fetch(ctx context.Context, sess *models.SessionContext, doc *models.DocumentLocator) (models.DownloadOutcome, error) {
	outcome := models.DownloadOutcome{
		Languages: []string{doc.Language},
		SourceURL: doc.FetchURL,
		Metadata:  cloneMetadata(doc.Metadata),
	}

	resp, body, err := f.doWithRetry(ctx, sess, doc)
	if err != nil {
		if ctx.Err() != nil {
			outcome.Status = models.StatusFailed
			outcome.Metadata["error"] = "canceled"
			return outcome, ctx.Err()
		}
		f.logger.Warn("download failed after retry", "url", doc.FetchURL, "language", doc.Language, "error", err)
		outcome.Status = models.StatusFailed
		outcome.Metadata["error"] = "transient network error"
		return outcome, nil
	}
	outcome.HTTPStatus = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The document simply is not offered for this language.
		outcome.Status = models.StatusSkippedMissing
		return outcome, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		outcome.Status = models.StatusFailed
		outcome.Metadata["error"] = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return outcome, ErrSessionExpired
	case resp.StatusCode != http.StatusOK:
		outcome.Status = models.StatusFailed
		outcome.Metadata["error"] = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return outcome, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if !IsBinaryDocument(contentType) {
		f.logger.Warn("rejecting non-document payload",
			"url", doc.FetchURL, "language", doc.Language, "contentType", contentType)
		outcome.Status = models.StatusSkippedBadContentType
		outcome.Metadata["contentType"] = contentType
		return outcome, nil
	}

	name := f.fileName(doc, resp)
	path := filepath.Join(f.outputDir, name)
	if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
		outcome.Status = models.StatusFailed
		outcome.Metadata["error"] = err.Error()
		return outcome, nil
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		outcome.Status = models.StatusFailed
		outcome.Metadata["error"] = err.Error()
		return outcome, nil
	}

	outcome.Status = models.StatusSaved
	outcome.Path = path
	outcome.Bytes = int64(len(body))
	f.logger.Info("saved document", "path", path, "bytes", outcome.Bytes, "language", doc.Language)
	return outcome, nil
}

// doWithRetry issues the request, retrying once on transport errors. The
// request is rebuilt per attempt because a POST body is consumed on send.
func (f *Fetcher) doWithRetry(ctx context.Context, sess *models.SessionContext, doc *models.DocumentLocator) (*http.Response, []byte, error) {
	var resp *http.Response
	var body []byte

	attempt := func() error {
		req, err := f.buildRequest(ctx, sess, doc)
		if err != nil {
			return backoff.Permanent(err)
		}

		r, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err // transient, retried once
		}
		defer r.Body.Close()

		b, err := io.ReadAll(r.Body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		resp = r
		body = b
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.retryInterval), 1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (f *Fetcher) buildRequest(ctx context.Context, sess *models.SessionContext, doc *models.DocumentLocator) (*http.Request, error) {
	method := doc.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if method == http.MethodPost && len(doc.Form) > 0 {
		form := url.Values{}
		for k, v := range doc.Form {
			form.Set(k, v)
		}
		bodyReader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, doc.FetchURL, bodyReader)
	if err != nil {
		return nil, err
	}

	if sess != nil {
		for k, v := range sess.Headers {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("Accept", "application/pdf,application/octet-stream;q=0.9,*/*;q=0.8")
	for k, v := range doc.Headers {
		req.Header.Set(k, v)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	if f.decorate != nil {
		f.decorate(req.Header)
	}
	return req, nil
}

// fileName prefers the deterministic name the resolver computed; a
// server-supplied Content-Disposition name wins only where the provider
// opted in (doc.FileName empty).
func (f *Fetcher) fileName(doc *models.DocumentLocator, resp *http.Response) string {
	if doc.FileName != "" {
		return doc.FileName
	}
	if name := dispositionFileName(resp.Header.Get("Content-Disposition")); name != "" {
		return name
	}
	return fmt.Sprintf("%s_%s.pdf", doc.RootIdentifier, doc.Language)
}

func dispositionFileName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(params["filename"])
	if name == "" {
		return ""
	}
	// Strip any path component a hostile server may smuggle in.
	return filepath.Base(name)
}

// IsBinaryDocument reports whether the content type indicates a genuine
// PDF/binary payload rather than an HTML error or challenge page.
func IsBinaryDocument(contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") {
		return false
	}
	return strings.Contains(ct, "pdf") || strings.Contains(ct, "octet-stream")
}

func cloneMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
