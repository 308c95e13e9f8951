// Package provider defines the capability set a vendor catalog must
// implement for the download pipeline: session bootstrap, catalog
// resolution, variant enumeration and document resolution. The pipeline
// never branches on a provider name; it only calls through this interface.
package provider

import (
	"context"
	"errors"

	"github.com/chemdocs/sds-downloader/internal/catalog"
	"github.com/chemdocs/sds-downloader/internal/models"
)

var (
	// ErrNoMatch means a search term matched no product. Non-fatal: the
	// run completes with an empty catalog and zero downloads.
	ErrNoMatch = errors.New("no product matched the search term")

	// ErrEnumeration means variant enumeration failed for one product.
	// The product is skipped; the run continues.
	ErrEnumeration = errors.New("variant enumeration failed")

	// ErrLanguageUnavailable means the provider offers no document for the
	// requested language. Recorded as skipped-missing, never fatal.
	ErrLanguageUnavailable = errors.New("no document for requested language")
)

// CatalogOptions tune category crawls.
type CatalogOptions struct {
	PageSize int
	MaxItems int // 0 means unlimited
}

// ProductContext is the per-product state document resolution needs:
// the page acting as referer, the CSRF token extracted from that page,
// and the language set the page claims to offer.
type ProductContext struct {
	Entry    models.CatalogEntry
	Variants []models.VariantIdentifier

	PageURL            string
	CSRFToken          string
	AvailableLanguages []string // empty means no page-side restriction
	Extra              map[string]string
}

// Provider is the strategy a vendor implements once; see package doc.
type Provider interface {
	Name() string

	// Bootstrap establishes a session. A non-nil cached context is reused
	// when still serviceable; implementations must return a fresh context
	// rather than mutate the cached one.
	Bootstrap(ctx context.Context, loc *models.ProductLocator, cached *models.SessionContext) (*models.SessionContext, error)

	// ResolveCatalog produces the lazy candidate sequence for the locator
	// mode: exactly one entry (single), the top search hit or ErrNoMatch
	// (search), or a bounded page crawl (category).
	ResolveCatalog(ctx context.Context, sess *models.SessionContext, loc *models.ProductLocator, opts CatalogOptions) (*catalog.Cursor, error)

	// EnumerateVariants returns the released variants under entry. Never
	// returns unreleased SKUs; providers without a variant concept return
	// one synthetic variant equal to the root identifier.
	EnumerateVariants(ctx context.Context, sess *models.SessionContext, entry models.CatalogEntry) ([]models.VariantIdentifier, error)

	// PrepareProduct fetches whatever per-product page state document
	// resolution requires (referer priming, CSRF token extraction).
	PrepareProduct(ctx context.Context, sess *models.SessionContext, entry models.CatalogEntry, variants []models.VariantIdentifier) (*ProductContext, error)

	// ResolveDocument resolves the fetchable location for one language.
	// Returns ErrLanguageUnavailable when the provider has no document
	// for it.
	ResolveDocument(ctx context.Context, sess *models.SessionContext, pc *ProductContext, language string) (*models.DocumentLocator, error)
}
