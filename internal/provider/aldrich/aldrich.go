// Package aldrich implements the provider capability set for the
// Sigma-Aldrich storefront. The SDS endpoint is pattern-predictable from
// (country, language, brand, product number); the storefront's protection
// is fingerprint-based, so a priming request with a recent-browser header
// set is enough to establish a session.
package aldrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/chemdocs/sds-downloader/internal/catalog"
	"github.com/chemdocs/sds-downloader/internal/models"
	"github.com/chemdocs/sds-downloader/internal/provider"
	"github.com/chemdocs/sds-downloader/internal/session"
)

// productPathPattern matches the storefront product path regardless of
// host, so resolved search hits and test servers parse the same way.
var productPathPattern = regexp.MustCompile(`/([A-Z]{2})/([a-z]{2})/product/([^/]+)/([^/?#]+)`)

type productRef struct {
	Base    string // scheme://host
	Country string
	Lang    string
	Brand   string
	Number  string
}

// DefaultBaseHost is the public storefront host.
const DefaultBaseHost = "https://www.sigmaaldrich.com"

// Client drives the Sigma-Aldrich document flow for one run.
type Client struct {
	http      *http.Client
	logger    *slog.Logger
	baseHost  string
	userAgent string

	mu         sync.Mutex
	prefetched map[string]bool
}

type Options struct {
	BaseHost  string // overridden in tests
	UserAgent string
}

func New(httpClient *http.Client, logger *slog.Logger, opts Options) *Client {
	if opts.BaseHost == "" {
		opts.BaseHost = DefaultBaseHost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:       httpClient,
		logger:     logger.With("component", "aldrich"),
		baseHost:   opts.BaseHost,
		userAgent:  opts.UserAgent,
		prefetched: map[string]bool{},
	}
}

func (c *Client) Name() string { return models.ProviderAldrich }

// Bootstrap issues the fingerprinted priming request. The storefront keys
// on the TLS/header fingerprint rather than a cookie hand-off, so an empty
// cookie set is acceptable.
func (c *Client) Bootstrap(ctx context.Context, loc *models.ProductLocator, cached *models.SessionContext) (*models.SessionContext, error) {
	headers := session.BrowserHeaders(c.userAgent, acceptLanguage(loc.CountryCode, firstOr(loc.CandidateLanguages, "en")))

	if cached != nil {
		target := loc.ProductURL
		if target == "" {
			target = c.baseHost + "/"
		}
		if err := session.Apply(c.http, cached, target); err == nil {
			cachedCopy := cached.Clone()
			cachedCopy.Headers = headers
			return cachedCopy, nil
		}
	}

	if loc.Mode == models.ModeSearch {
		// Search carries its own priming: the first storefront GET is the
		// search request itself.
		return &models.SessionContext{
			Provider: models.ProviderAldrich,
			Cookies:  map[string]string{},
			Headers:  headers,
			IssuedAt: time.Now(),
		}, nil
	}

	sess, err := session.Prime(ctx, c.http, models.ProviderAldrich, loc.ProductURL, headers, false)
	if err != nil {
		return nil, err
	}
	c.markPrefetched(loc.ProductURL)
	return sess, nil
}

func (c *Client) ResolveCatalog(ctx context.Context, sess *models.SessionContext, loc *models.ProductLocator, opts provider.CatalogOptions) (*catalog.Cursor, error) {
	switch loc.Mode {
	case models.ModeSingle:
		return catalog.Single(models.CatalogEntry{
			RootIdentifier: loc.RootIdentifier,
			SourceURL:      loc.ProductURL,
		}), nil
	case models.ModeSearch:
		productURL, err := c.searchTopResult(ctx, sess, loc)
		if err != nil {
			return nil, err
		}
		ref, err := parseProductURL(productURL)
		if err != nil {
			return nil, fmt.Errorf("%w: search hit %q is not a product page", provider.ErrNoMatch, productURL)
		}
		c.logger.Info("resolved search term to product", "term", loc.SearchTerm, "url", productURL)
		return catalog.Single(models.CatalogEntry{
			RootIdentifier: ref.Number,
			SourceURL:      productURL,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported mode %q", loc.Mode)
	}
}

// EnumerateVariants returns the synthetic root variant; the storefront
// serves one SDS set per product number.
func (c *Client) EnumerateVariants(ctx context.Context, sess *models.SessionContext, entry models.CatalogEntry) ([]models.VariantIdentifier, error) {
	return []models.VariantIdentifier{{
		RootIdentifier: entry.RootIdentifier,
		VariantSKU:     entry.RootIdentifier,
		ReleaseStatus:  models.ReleaseStatusReleased,
	}}, nil
}

// PrepareProduct primes the product page once so the SDS download carries
// the cookies and referer of a normal visit.
func (c *Client) PrepareProduct(ctx context.Context, sess *models.SessionContext, entry models.CatalogEntry, variants []models.VariantIdentifier) (*provider.ProductContext, error) {
	if err := c.ensurePageLoaded(ctx, sess, entry.SourceURL); err != nil {
		return nil, err
	}
	return &provider.ProductContext{
		Entry:    entry,
		Variants: variants,
		PageURL:  entry.SourceURL,
	}, nil
}

// ResolveDocument constructs the direct SDS URL. No network call: the
// location is fully determined by (country, language, brand, number).
func (c *Client) ResolveDocument(ctx context.Context, sess *models.SessionContext, pc *provider.ProductContext, language string) (*models.DocumentLocator, error) {
	ref, err := parseProductURL(pc.PageURL)
	if err != nil {
		return nil, err
	}

	fetchURL := fmt.Sprintf("%s/%s/%s/sds/%s/%s", ref.Base, ref.Country, language, ref.Brand, ref.Number)
	return &models.DocumentLocator{
		RootIdentifier: ref.Number,
		VariantSKU:     ref.Number,
		Language:       language,
		FetchURL:       fetchURL,
		Kind:           models.LocatorKindDirect,
		FileName:       fmt.Sprintf("%s_%s_%s.pdf", ref.Number, ref.Country, strings.ToUpper(language)),
		Headers: map[string]string{
			"Referer":         pc.PageURL,
			"Accept-Language": acceptLanguage(ref.Country, language),
		},
		Metadata: map[string]string{"brand": ref.Brand, "country": ref.Country},
	}, nil
}

// searchTopResult runs a storefront keyword search and returns the first
// product link, resolved absolute.
func (c *Client) searchTopResult(ctx context.Context, sess *models.SessionContext, loc *models.ProductLocator) (string, error) {
	lang := firstOr(loc.CandidateLanguages, "en")
	searchURL := fmt.Sprintf("%s/%s/%s/search/%s",
		c.baseHost, loc.CountryCode, lang, url.PathEscape(loc.SearchTerm))

	u, err := url.Parse(searchURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("focus", "products")
	q.Set("page", "1")
	q.Set("perpage", "30")
	q.Set("sort", "relevance")
	q.Set("term", loc.SearchTerm)
	q.Set("type", "product")
	u.RawQuery = q.Encode()

	return c.searchAt(ctx, sess, u.String())
}

// searchAt is the host-agnostic part of searchTopResult, separated so the
// result extraction can run against any base.
func (c *Client) searchAt(ctx context.Context, sess *models.SessionContext, searchURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
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
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing search results: %w", err)
	}

	link := doc.Find(`a[id^="NAME-pdp-link-"]`).First()
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", provider.ErrNoMatch
	}

	base := resp.Request.URL
	hrefURL, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parsing result link %q: %w", href, err)
	}
	return base.ResolveReference(hrefURL).String(), nil
}

func (c *Client) ensurePageLoaded(ctx context.Context, sess *models.SessionContext, pageURL string) error {
	c.mu.Lock()
	done := c.prefetched[pageURL]
	c.mu.Unlock()
	if done {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return err
	}
	if sess != nil {
		for k, v := range sess.Headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("loading %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("loading %s returned HTTP %d", pageURL, resp.StatusCode)
	}
	c.markPrefetched(pageURL)
	return nil
}

func (c *Client) markPrefetched(pageURL string) {
	c.mu.Lock()
	c.prefetched[pageURL] = true
	c.mu.Unlock()
}

func parseProductURL(productURL string) (*productRef, error) {
	u, err := url.Parse(productURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid product URL %q", productURL)
	}
	m := productPathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return nil, fmt.Errorf("URL %q has no product path", productURL)
	}
	return &productRef{
		Base:    u.Scheme + "://" + u.Host,
		Country: m[1],
		Lang:    m[2],
		Brand:   m[3],
		Number:  m[4],
	}, nil
}

func acceptLanguage(country, lang string) string {
	return fmt.Sprintf("%s-%s,%s;q=0.9,en-US;q=0.8,en;q=0.7", lang, country, lang)
}

func firstOr(langs []string, fallback string) string {
	if len(langs) > 0 {
		return langs[0]
	}
	return fallback
}
