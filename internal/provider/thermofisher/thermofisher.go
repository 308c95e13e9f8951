// Package thermofisher implements the provider capability set against the
// Thermo Fisher APAC chemical catalog. The catalog exposes a JSON API;
// every call must look like it came from the storefront SPA: a country
// header, Origin/Referer, and a randomized anti-scraping header minted
// fresh for each request.
package thermofisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chemdocs/sds-downloader/internal/catalog"
	"github.com/chemdocs/sds-downloader/internal/models"
	"github.com/chemdocs/sds-downloader/internal/provider"
	"github.com/chemdocs/sds-downloader/internal/session"
)

const (
	DefaultBaseHost = "https://chemicals.thermofisher.kr"

	categoryPath = "/apac/api/search/category"
	keywordPath  = "/apac/api/search/catalog/keyword"
	childPath    = "/apac/api/search/catalog/child"
	sdsPath      = "/apac/api/document/search/sds"

	skuStatusReleased = "RELEASED"
)

// Client talks to the APAC catalog endpoints on behalf of one run.
type Client struct {
	http      *http.Client
	logger    *slog.Logger
	baseHost  string
	country   string
	userAgent string

	mu         sync.Mutex
	prefetched map[string]bool
}

type Options struct {
	BaseHost  string // overridden in tests
	Country   string
	UserAgent string
}

func New(httpClient *http.Client, logger *slog.Logger, opts Options) *Client {
	if opts.BaseHost == "" {
		opts.BaseHost = DefaultBaseHost
	}
	if opts.Country == "" {
		opts.Country = "kr"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:       httpClient,
		logger:     logger.With("component", "thermofisher"),
		baseHost:   opts.BaseHost,
		country:    opts.Country,
		userAgent:  opts.UserAgent,
		prefetched: map[string]bool{},
	}
}

func (c *Client) Name() string { return models.ProviderThermoFisher }

// apiEnvelope is the uniform wrapper every endpoint responds with.
type apiEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type catalogResult struct {
	RootCatalogNumber  string `json:"rootCatalogNumber"`
	ChildCatalogNumber string `json:"childCatalogNumber"`
	ProductName        string `json:"productName"`
}

type catalogPage struct {
	Count             int             `json:"count"`
	CatalogResultDTOs []catalogResult `json:"catalogResultDTOs"`
}

type childSKU struct {
	ChildCatalogNumber string `json:"childCatalogNumber"`
	SKUStatus          string `json:"skuStatus"`
}

// Bootstrap reuses serviceable cached material; otherwise it primes the
// storefront once so the API sees the cookies a page visit would have set.
func (c *Client) Bootstrap(ctx context.Context, loc *models.ProductLocator, cached *models.SessionContext) (*models.SessionContext, error) {
	if cached != nil {
		if err := session.Apply(c.http, cached, c.baseHost); err == nil {
			return cached.Clone(), nil
		}
	}

	headers := session.BrowserHeaders(c.userAgent, "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	sess, err := session.Prime(ctx, c.http, models.ProviderThermoFisher, c.primingURL(loc), headers, false)
	if err != nil {
		return nil, err
	}
	c.markPrefetched(c.primingURL(loc))
	return sess, nil
}

func (c *Client) primingURL(loc *models.ProductLocator) string {
	switch loc.Mode {
	case models.ModeSingle:
		return c.productURL(loc.RootIdentifier)
	case models.ModeCategory:
		return c.categoryURL(loc.CategoryID)
	default:
		return c.baseHost + "/"
	}
}

func (c *Client) ResolveCatalog(ctx context.Context, sess *models.SessionContext, loc *models.ProductLocator, opts provider.CatalogOptions) (*catalog.Cursor, error) {
	language := firstLanguage(loc.CandidateLanguages)

	switch loc.Mode {
	case models.ModeSingle:
		return catalog.Single(models.CatalogEntry{
			RootIdentifier: loc.RootIdentifier,
			SourceURL:      c.productURL(loc.RootIdentifier),
		}), nil

	case models.ModeSearch:
		if err := c.ensurePageLoaded(ctx, sess, c.baseHost+"/"); err != nil {
			return nil, err
		}
		page, err := c.searchCatalog(ctx, sess, loc.SearchTerm, language, c.baseHost+"/", 1, 10)
		if err != nil {
			return nil, err
		}
		if len(page.CatalogResultDTOs) == 0 {
			return nil, provider.ErrNoMatch
		}
		top := page.CatalogResultDTOs[0]
		root := top.RootCatalogNumber
		if root == "" {
			root = top.ChildCatalogNumber
		}
		if root == "" {
			return nil, provider.ErrNoMatch
		}
		return catalog.Single(models.CatalogEntry{
			RootIdentifier: root,
			DisplayName:    top.ProductName,
			SourceURL:      c.productURL(root),
			SeedVariant:    top.ChildCatalogNumber,
		}), nil

	case models.ModeCategory:
		categoryURL := c.categoryURL(loc.CategoryID)
		if err := c.ensurePageLoaded(ctx, sess, categoryURL); err != nil {
			return nil, err
		}
		fetchPage := func(ctx context.Context, page, pageSize int) ([]models.CatalogEntry, int, error) {
			data, err := c.fetchCategoryPage(ctx, sess, loc.CategoryID, page, pageSize, language, categoryURL)
			if err != nil {
				return nil, 0, err
			}
			entries := make([]models.CatalogEntry, 0, len(data.CatalogResultDTOs))
			for _, r := range data.CatalogResultDTOs {
				if r.RootCatalogNumber == "" {
					c.logger.Warn("skipping listing entry without root SKU", "entry", r.ChildCatalogNumber)
					continue
				}
				entries = append(entries, models.CatalogEntry{
					RootIdentifier: r.RootCatalogNumber,
					DisplayName:    r.ProductName,
					SourceURL:      c.productURL(r.RootCatalogNumber),
					SeedVariant:    r.ChildCatalogNumber,
				})
			}
			// Continuation is keyed on the raw listing size so skipped
			// entries cannot shorten the crawl.
			return entries, len(data.CatalogResultDTOs), nil
		}
		return catalog.NewCursor(fetchPage, opts.PageSize, opts.MaxItems)

	default:
		return nil, fmt.Errorf("unsupported mode %q", loc.Mode)
	}
}

// EnumerateVariants resolves the released child SKUs under a root product.
// Unreleased SKUs never leave this method.
func (c *Client) EnumerateVariants(ctx context.Context, sess *models.SessionContext, entry models.CatalogEntry) ([]models.VariantIdentifier, error) {
	productURL := c.productURL(entry.RootIdentifier)
	if err := c.ensurePageLoaded(ctx, sess, productURL); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrEnumeration, err)
	}

	seed := entry.SeedVariant
	if seed == "" {
		page, err := c.searchCatalog(ctx, sess, entry.RootIdentifier, "ko", productURL, 1, 10)
		if err != nil {
			return nil, fmt.Errorf("%w: seed lookup for %s: %v", provider.ErrEnumeration, entry.RootIdentifier, err)
		}
		if len(page.CatalogResultDTOs) == 0 || page.CatalogResultDTOs[0].ChildCatalogNumber == "" {
			return nil, fmt.Errorf("%w: no catalog results for %s", provider.ErrEnumeration, entry.RootIdentifier)
		}
		seed = page.CatalogResultDTOs[0].ChildCatalogNumber
	}

	var children []childSKU
	if err := c.requestJSON(ctx, sess, http.MethodPost, c.baseHost+childPath, productURL,
		map[string]string{"catalogNumber": seed}, &children); err != nil {
		return nil, fmt.Errorf("%w: child lookup for %s: %v", provider.ErrEnumeration, entry.RootIdentifier, err)
	}

	skus := make([]string, 0, len(children))
	for _, child := range children {
		if child.ChildCatalogNumber == "" {
			continue
		}
		if !strings.EqualFold(child.SKUStatus, skuStatusReleased) {
			continue
		}
		skus = append(skus, child.ChildCatalogNumber)
	}
	if len(skus) == 0 {
		// The listing itself exposed the seed SKU, so it is public.
		skus = []string{seed}
	}
	sort.Strings(skus)

	variants := make([]models.VariantIdentifier, 0, len(skus))
	seen := map[string]bool{}
	for _, sku := range skus {
		if seen[sku] {
			continue
		}
		seen[sku] = true
		variants = append(variants, models.VariantIdentifier{
			RootIdentifier: entry.RootIdentifier,
			VariantSKU:     sku,
			ReleaseStatus:  models.ReleaseStatusReleased,
		})
	}
	return variants, nil
}

func (c *Client) PrepareProduct(ctx context.Context, sess *models.SessionContext, entry models.CatalogEntry, variants []models.VariantIdentifier) (*provider.ProductContext, error) {
	productURL := c.productURL(entry.RootIdentifier)
	if err := c.ensurePageLoaded(ctx, sess, productURL); err != nil {
		return nil, err
	}
	return &provider.ProductContext{
		Entry:    entry,
		Variants: variants,
		PageURL:  productURL,
	}, nil
}

// ResolveDocument asks the document-search endpoint for the asset URL
// covering all of the product's child SKUs in the given language.
func (c *Client) ResolveDocument(ctx context.Context, sess *models.SessionContext, pc *provider.ProductContext, language string) (*models.DocumentLocator, error) {
	skus := make([]string, 0, len(pc.Variants))
	for _, v := range pc.Variants {
		skus = append(skus, v.VariantSKU)
	}

	endpoint := fmt.Sprintf("%s%s?childSkus=%s&language=%s",
		c.baseHost, sdsPath, url.QueryEscape(strings.Join(skus, ",")), url.QueryEscape(language))

	var raw json.RawMessage
	if err := c.requestJSON(ctx, sess, http.MethodGet, endpoint, pc.PageURL, nil, &raw); err != nil {
		return nil, err
	}

	var assetURL string
	if err := json.Unmarshal(raw, &assetURL); err != nil || !strings.HasPrefix(assetURL, "http") {
		return nil, fmt.Errorf("%w: %s (%s)", provider.ErrLanguageUnavailable, pc.Entry.RootIdentifier, language)
	}

	return &models.DocumentLocator{
		RootIdentifier: pc.Entry.RootIdentifier,
		VariantSKU:     strings.Join(skus, ","),
		Language:       language,
		FetchURL:       assetURL,
		Kind:           models.LocatorKindAPIResolved,
		FileName:       fmt.Sprintf("%s_%s.pdf", pc.Entry.RootIdentifier, strings.ToUpper(language)),
		Headers: map[string]string{
			"Referer": pc.PageURL,
			"Origin":  c.baseHost,
		},
		Metadata: map[string]string{"rootSku": pc.Entry.RootIdentifier},
	}, nil
}

// DecorateRequest adds the per-call API headers to a download request.
// The anti-scraping header is minted fresh on every invocation.
func (c *Client) DecorateRequest(h http.Header) {
	h.Set("country", c.country)
	h.Set("com-tf-dye", uuid.NewString())
}

func (c *Client) searchCatalog(ctx context.Context, sess *models.SessionContext, query, language, referer string, page, pageSize int) (*catalogPage, error) {
	payload := map[string]any{
		"countryCode": c.country,
		"language":    language,
		"filter":      "",
		"pageNo":      page,
		"pageSize":    pageSize,
		"persona":     "",
		"query":       query,
	}
	var out catalogPage
	if err := c.requestJSON(ctx, sess, http.MethodPost, c.baseHost+keywordPath, referer, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) fetchCategoryPage(ctx context.Context, sess *models.SessionContext, categoryID string, page, pageSize int, language, referer string) (*catalogPage, error) {
	payload := map[string]any{
		"categoryId":  categoryID,
		"pageNo":      page,
		"pageSize":    pageSize,
		"filter":      "",
		"countryCode": c.country,
		"language":    language,
	}
	var out catalogPage
	if err := c.requestJSON(ctx, sess, http.MethodPost, c.baseHost+categoryPath, referer, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// requestJSON issues one API call with the SPA header set and unwraps the
// {code, message, data} envelope.
func (c *Client) requestJSON(ctx context.Context, sess *models.SessionContext, method, endpoint, referer string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if sess != nil {
		for k, v := range sess.Headers {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", c.baseHost)
	req.Header.Set("Referer", referer)
	c.DecorateRequest(req.Header)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api %s returned HTTP %d", endpoint, resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding api response: %w", err)
	}
	if envelope.Code != "200" {
		return fmt.Errorf("api responded with error code %s: %s", envelope.Code, envelope.Message)
	}
	if envelope.Data == nil {
		return errors.New("api returned no data")
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decoding api data: %w", err)
		}
	}
	return nil
}

// ensurePageLoaded loads a storefront page once per run so the API sees
// the cookies a real visit would have produced.
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

func (c *Client) productURL(sku string) string {
	return c.baseHost + "/apac/product/" + url.PathEscape(sku)
}

func (c *Client) categoryURL(id string) string {
	return c.baseHost + "/apac/search/category/" + url.PathEscape(id)
}

func firstLanguage(langs []string) string {
	if len(langs) > 0 {
		return langs[0]
	}
	return "ko"
}
