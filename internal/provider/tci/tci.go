// Package tci implements the provider capability set for the TCI Chemicals
// storefront. The storefront sits behind a bot-mitigation layer a plain
// client cannot pass on its own, so the session is collected once by a real
// browser engine and then driven by a normal HTTP client. The document
// endpoint is a CSRF-gated AJAX call replaying form state embedded in the
// product page.
package tci

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/chemdocs/sds-downloader/internal/catalog"
	"github.com/chemdocs/sds-downloader/internal/models"
	"github.com/chemdocs/sds-downloader/internal/provider"
	"github.com/chemdocs/sds-downloader/internal/session"
)

const documentSearchPath = "/documentSearch/productSDSSearchDoc"

// SessionSource produces browser-collected session material for a page.
// Wired to a headless browser in production; stubbed in tests.
type SessionSource func(ctx context.Context, pageURL string) (*models.SessionContext, error)

// Client drives the TCI document flow for one run.
type Client struct {
	http    *http.Client
	logger  *slog.Logger
	collect SessionSource
}

func New(httpClient *http.Client, logger *slog.Logger, collect SessionSource) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    httpClient,
		logger:  logger.With("component", "tci"),
		collect: collect,
	}
}

func (c *Client) Name() string { return models.ProviderTCI }

func (c *Client) Bootstrap(ctx context.Context, loc *models.ProductLocator, cached *models.SessionContext) (*models.SessionContext, error) {
	if cached != nil {
		if err := session.Apply(c.http, cached, loc.ProductURL); err == nil {
			c.logger.Info("reusing cached session", "cookies", len(cached.Cookies))
			return cached.Clone(), nil
		}
	}

	if c.collect == nil {
		return nil, fmt.Errorf("%w: no browser session source configured", session.ErrEstablishment)
	}

	sess, err := c.collect(ctx, loc.ProductURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrEstablishment, err)
	}
	if len(sess.Cookies) == 0 {
		return nil, fmt.Errorf("%w: browser returned no cookies", session.ErrEstablishment)
	}
	if err := session.Apply(c.http, sess, loc.ProductURL); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrEstablishment, err)
	}
	return sess, nil
}

// ResolveCatalog yields the single product the locator names; TCI has no
// crawlable listing in this flow.
func (c *Client) ResolveCatalog(ctx context.Context, sess *models.SessionContext, loc *models.ProductLocator, opts provider.CatalogOptions) (*catalog.Cursor, error) {
	return catalog.Single(models.CatalogEntry{
		RootIdentifier: loc.RootIdentifier,
		SourceURL:      loc.ProductURL,
	}), nil
}

// EnumerateVariants returns the synthetic root variant; TCI keys documents
// on the product code itself.
func (c *Client) EnumerateVariants(ctx context.Context, sess *models.SessionContext, entry models.CatalogEntry) ([]models.VariantIdentifier, error) {
	return []models.VariantIdentifier{{
		RootIdentifier: entry.RootIdentifier,
		VariantSKU:     entry.RootIdentifier,
		ReleaseStatus:  models.ReleaseStatusReleased,
	}}, nil
}

// PrepareProduct fetches the product page through the established session
// and extracts the SDS form state, including the CSRF token the document
// endpoint requires.
func (c *Client) PrepareProduct(ctx context.Context, sess *models.SessionContext, entry models.CatalogEntry, variants []models.VariantIdentifier) (*provider.ProductContext, error) {
	html, err := c.fetchPage(ctx, sess, entry.SourceURL)
	if err != nil {
		return nil, err
	}

	meta, err := ParseProductPage(html)
	if err != nil {
		return nil, fmt.Errorf("parsing product page %s: %w", entry.SourceURL, err)
	}

	if meta.CSRFToken == "" {
		// Degraded mode: the request goes out without a token and is
		// expected to bounce with an auth-style status. Logged apart from
		// plain network failures so the two are distinguishable in a
		// summary.
		c.logger.Warn("csrf token not found on product page, document requests will likely be rejected",
			"url", entry.SourceURL)
	}

	langs := make([]string, 0, len(meta.Languages))
	for _, opt := range meta.Languages {
		langs = append(langs, models.NormalizeLanguage(opt.Code))
	}

	return &provider.ProductContext{
		Entry:              entry,
		Variants:           variants,
		PageURL:            entry.SourceURL,
		CSRFToken:          meta.CSRFToken,
		AvailableLanguages: langs,
		Extra: map[string]string{
			"productCode":     meta.ProductCode,
			"selectedCountry": meta.SelectedCountry,
			"contextPath":     meta.ContextPath,
		},
	}, nil
}

// ResolveDocument builds the CSRF-gated form POST for one language. No
// network call: the page state collected in PrepareProduct is replayed.
func (c *Client) ResolveDocument(ctx context.Context, sess *models.SessionContext, pc *provider.ProductContext, language string) (*models.DocumentLocator, error) {
	meta := pc.Extra
	if !containsLanguage(pc.AvailableLanguages, language) {
		return nil, fmt.Errorf("%w: %s (%s)", provider.ErrLanguageUnavailable, pc.Entry.RootIdentifier, language)
	}

	base, err := baseOf(pc.PageURL)
	if err != nil {
		return nil, err
	}
	endpoint := base + strings.TrimSuffix(meta["contextPath"], "/") + documentSearchPath

	form := map[string]string{
		"productCode":     strings.ToUpper(meta["productCode"]),
		"langSelector":    language,
		"selectedCountry": meta["selectedCountry"],
	}
	csrfState := "present"
	if pc.CSRFToken != "" {
		form["CSRFToken"] = pc.CSRFToken
	} else {
		csrfState = "missing"
	}

	return &models.DocumentLocator{
		RootIdentifier: pc.Entry.RootIdentifier,
		VariantSKU:     pc.Entry.RootIdentifier,
		Language:       language,
		FetchURL:       endpoint,
		Kind:           models.LocatorKindAPIResolved,
		Method:         http.MethodPost,
		Form:           form,
		Headers: map[string]string{
			"Referer":          pc.PageURL,
			"Origin":           base,
			"Accept":           "*/*",
			"X-Requested-With": "XMLHttpRequest",
		},
		// FileName left empty: the endpoint names the file via
		// Content-Disposition; the fetcher falls back to code_lang.pdf.
		Metadata: map[string]string{"csrfToken": csrfState},
	}, nil
}

func (c *Client) fetchPage(ctx context.Context, sess *models.SessionContext, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	if sess != nil {
		for k, v := range sess.Headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s returned HTTP %d", pageURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", pageURL, err)
	}
	return string(data), nil
}

func containsLanguage(langs []string, lang string) bool {
	if len(langs) == 0 {
		return true
	}
	want := models.NormalizeLanguage(lang)
	for _, l := range langs {
		if l == want {
			return true
		}
	}
	return false
}

func baseOf(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", pageURL, err)
	}
	return u.Scheme + "://" + u.Host, nil
}
