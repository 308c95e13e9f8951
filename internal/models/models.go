package models

import (
	"sort"
	"time"
)

// Mode describes how the run selects products.
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeCategory Mode = "category"
	ModeSearch   Mode = "search"
)

// ProductLocator is the parsed form of the user input. Immutable once built.
type ProductLocator struct {
	Provider           string
	Mode               Mode
	RawInput           string
	CountryCode        string
	CandidateLanguages []string

	// Provider-specific identifiers extracted from the raw input.
	RootIdentifier string // product SKU / code, single mode
	CategoryID     string // category listing id, category mode
	SearchTerm     string // free-text term, search mode
	Brand          string // Aldrich brand path segment
	ProductURL     string // canonical product/category page URL
}

// SessionContext is the cookie/header material issued by a session
// bootstrap. It is a value: refresh replaces the whole context, callers
// never mutate one in place.
type SessionContext struct {
	Provider string            `json:"provider"`
	Cookies  map[string]string `json:"cookies"`
	Headers  map[string]string `json:"headers"`
	IssuedAt time.Time         `json:"issuedAt"`
}

// Clone returns a deep copy, used when seeding per-request header sets.
func (s *SessionContext) Clone() *SessionContext {
	if s == nil {
		return nil
	}
	out := &SessionContext{
		Provider: s.Provider,
		Cookies:  make(map[string]string, len(s.Cookies)),
		Headers:  make(map[string]string, len(s.Headers)),
		IssuedAt: s.IssuedAt,
	}
	for k, v := range s.Cookies {
		out.Cookies[k] = v
	}
	for k, v := range s.Headers {
		out.Headers[k] = v
	}
	return out
}

// CatalogEntry is one resolved product from the catalog stage.
type CatalogEntry struct {
	RootIdentifier string
	DisplayName    string
	SourceURL      string

	// SeedVariant is the variant SKU the listing itself exposed, used to
	// seed child enumeration where the API keys on a child SKU.
	SeedVariant string
}

// ReleaseStatus of a variant as reported by the source catalog.
type ReleaseStatus string

const (
	ReleaseStatusReleased   ReleaseStatus = "released"
	ReleaseStatusUnreleased ReleaseStatus = "unreleased"
)

// VariantIdentifier is one sellable variant under a root product. Only
// released variants may reach document resolution.
type VariantIdentifier struct {
	RootIdentifier string
	VariantSKU     string
	ReleaseStatus  ReleaseStatus
}

// LocatorKind distinguishes how a document location was obtained.
type LocatorKind string

const (
	LocatorKindDirect      LocatorKind = "direct"
	LocatorKindAPIResolved LocatorKind = "api-resolved"
)

// DocumentLocator is a concrete fetchable document location for one
// (variant, language) pair.
type DocumentLocator struct {
	RootIdentifier string
	VariantSKU     string
	Language       string
	FetchURL       string
	Kind           LocatorKind

	// Request shape. Method defaults to GET; Form is sent urlencoded when
	// Method is POST. Headers are merged over the session headers.
	Method   string
	Form     map[string]string
	Headers  map[string]string
	FileName string

	// Metadata is carried through into the summary entry.
	Metadata map[string]string
}

// OutcomeStatus classifies a single download attempt.
type OutcomeStatus string

const (
	StatusSaved                 OutcomeStatus = "saved"
	StatusSkippedMissing        OutcomeStatus = "skipped-missing"
	StatusSkippedBadContentType OutcomeStatus = "skipped-bad-content-type"
	StatusFailed                OutcomeStatus = "failed"
)

// DownloadOutcome records exactly one attempted DocumentLocator.
type DownloadOutcome struct {
	Path       string            `json:"path,omitempty"`
	Languages  []string          `json:"languages"`
	SourceURL  string            `json:"sourceUrl"`
	Status     OutcomeStatus     `json:"status"`
	HTTPStatus int               `json:"httpStatus,omitempty"`
	Bytes      int64             `json:"bytesWritten,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RunSummary is the stable external contract printed at run end. Field
// names must stay identical across providers; only Notes content varies.
type RunSummary struct {
	Provider   string            `json:"provider"`
	Product    string            `json:"product"`
	Mode       Mode              `json:"mode"`
	Downloads  []DownloadOutcome `json:"downloads"`
	ProductURL string            `json:"productUrl,omitempty"`
	Notes      map[string]any    `json:"notes,omitempty"`
}

// Succeeded reports the process-level result: at least one saved document.
func (r *RunSummary) Succeeded() bool {
	for _, d := range r.Downloads {
		if d.Status == StatusSaved {
			return true
		}
	}
	return false
}

// SavedCount returns the number of saved outcomes.
func (r *RunSummary) SavedCount() int {
	n := 0
	for _, d := range r.Downloads {
		if d.Status == StatusSaved {
			n++
		}
	}
	return n
}

// NormalizeLanguages lowercases, trims and dedupes a language list,
// returning it sorted. Mirrors the summary contract: languages in a
// download entry are a sorted set.
func NormalizeLanguages(langs []string) []string {
	seen := make(map[string]struct{}, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		l = NormalizeLanguage(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
