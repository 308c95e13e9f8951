package locator

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/chemdocs/sds-downloader/internal/models"
)

// ErrMalformedLocator means the input cannot be parsed into a
// ProductLocator for the named provider. Fatal, raised before any network
// traffic.
var ErrMalformedLocator = errors.New("malformed product locator")

// Input is the raw selection the caller made. Exactly one of ProductURL,
// CategoryURL and SearchTerm must be set.
type Input struct {
	ProductURL  string
	CategoryURL string
	SearchTerm  string
	Languages   []string
}

var (
	tciProductPattern     = regexp.MustCompile(`^https://www\.tcichemicals\.com/([A-Z]{2})/([a-z]{2})/p/([A-Za-z0-9-]+)`)
	aldrichProductPattern = regexp.MustCompile(`^https://www\.sigmaaldrich\.com/([A-Z]{2})/([a-z]{2})/product/([^/]+)/([^/?#]+)`)
)

// Parse turns the raw input into a ProductLocator for the given provider.
// It performs no network access.
func Parse(provider string, in Input) (*models.ProductLocator, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	switch provider {
	case models.ProviderThermoFisher:
		return parseThermoFisher(in)
	case models.ProviderTCI:
		return parseTCI(in)
	case models.ProviderAldrich:
		return parseAldrich(in)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrMalformedLocator, provider)
	}
}

func validateInput(in Input) error {
	set := 0
	for _, v := range []string{in.ProductURL, in.CategoryURL, in.SearchTerm} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of product URL, category URL or search term is required", ErrMalformedLocator)
	}
	return nil
}

func parseThermoFisher(in Input) (*models.ProductLocator, error) {
	loc := &models.ProductLocator{
		Provider:           models.ProviderThermoFisher,
		CountryCode:        "kr",
		CandidateLanguages: languagesOrDefault(in.Languages, []string{"ko", "en"}),
	}

	switch {
	case in.ProductURL != "":
		sku, err := pathSegmentAfter(in.ProductURL, "product", "chemicals.thermofisher")
		if err != nil {
			return nil, err
		}
		loc.Mode = models.ModeSingle
		loc.RawInput = in.ProductURL
		loc.RootIdentifier = sku
		loc.ProductURL = in.ProductURL
	case in.CategoryURL != "":
		id, err := pathSegmentAfter(in.CategoryURL, "category", "chemicals.thermofisher")
		if err != nil {
			return nil, err
		}
		loc.Mode = models.ModeCategory
		loc.RawInput = in.CategoryURL
		loc.CategoryID = id
		loc.ProductURL = in.CategoryURL
	default:
		loc.Mode = models.ModeSearch
		loc.RawInput = in.SearchTerm
		loc.SearchTerm = strings.TrimSpace(in.SearchTerm)
	}
	return loc, nil
}

func parseTCI(in Input) (*models.ProductLocator, error) {
	// The TCI storefront offers no stable listing or keyword endpoint the
	// document flow can use, so only product URLs are accepted.
	if in.ProductURL == "" {
		return nil, fmt.Errorf("%w: tci supports product URLs only", ErrMalformedLocator)
	}
	m := tciProductPattern.FindStringSubmatch(in.ProductURL)
	if m == nil {
		return nil, fmt.Errorf("%w: expected https://www.tcichemicals.com/<CC>/<ll>/p/<code>, got %q", ErrMalformedLocator, in.ProductURL)
	}
	return &models.ProductLocator{
		Provider:           models.ProviderTCI,
		Mode:               models.ModeSingle,
		RawInput:           in.ProductURL,
		CountryCode:        m[1],
		CandidateLanguages: languagesOrDefault(in.Languages, []string{m[2]}),
		RootIdentifier:     m[3],
		ProductURL:         in.ProductURL,
	}, nil
}

func parseAldrich(in Input) (*models.ProductLocator, error) {
	switch {
	case in.ProductURL != "":
		m := aldrichProductPattern.FindStringSubmatch(in.ProductURL)
		if m == nil {
			return nil, fmt.Errorf("%w: expected https://www.sigmaaldrich.com/<CC>/<ll>/product/<brand>/<number>, got %q", ErrMalformedLocator, in.ProductURL)
		}
		return &models.ProductLocator{
			Provider:           models.ProviderAldrich,
			Mode:               models.ModeSingle,
			RawInput:           in.ProductURL,
			CountryCode:        m[1],
			CandidateLanguages: languagesOrDefault(in.Languages, []string{m[2]}),
			RootIdentifier:     m[4],
			Brand:              m[3],
			ProductURL:         in.ProductURL,
		}, nil
	case in.SearchTerm != "":
		// Search runs against the KR storefront unless told otherwise.
		return &models.ProductLocator{
			Provider:           models.ProviderAldrich,
			Mode:               models.ModeSearch,
			RawInput:           in.SearchTerm,
			CountryCode:        "KR",
			CandidateLanguages: languagesOrDefault(in.Languages, []string{"ko"}),
			SearchTerm:         strings.TrimSpace(in.SearchTerm),
		}, nil
	default:
		return nil, fmt.Errorf("%w: aldrich supports product URLs and search terms only", ErrMalformedLocator)
	}
}

func languagesOrDefault(langs, fallback []string) []string {
	normalized := models.NormalizeLanguages(langs)
	if len(normalized) == 0 {
		return models.NormalizeLanguages(fallback)
	}
	return normalized
}

// pathSegmentAfter extracts the path segment following keyword from a URL
// whose host contains hostSubstring. Falls back to the last segment when
// the keyword is absent, matching how product pages shorten their paths.
func pathSegmentAfter(rawURL, keyword, hostSubstring string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not a valid URL", ErrMalformedLocator, rawURL)
	}
	if !strings.Contains(u.Host, hostSubstring) {
		return "", fmt.Errorf("%w: unsupported domain %q", ErrMalformedLocator, u.Host)
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for i, p := range parts {
		if p == keyword && i+1 < len(parts) {
			return parts[i+1], nil
		}
	}
	if len(parts) > 0 {
		return parts[len(parts)-1], nil
	}
	return "", fmt.Errorf("%w: no %s segment in %q", ErrMalformedLocator, keyword, rawURL)
}
