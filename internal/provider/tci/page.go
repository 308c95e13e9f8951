package tci

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/chemdocs/sds-downloader/internal/models"
)

// ErrNoDocumentMetadata means the product page carried no SDS form state,
// usually because the session was rejected and a challenge page was served.
var ErrNoDocumentMetadata = errors.New("no sds metadata on product page")

// LanguageOption is one entry of the page's SDS language selector.
type LanguageOption struct {
	Code  string
	Label string
}

// PageMetadata is the document-form state embedded in a TCI product page.
// The AJAX document endpoint replays exactly these values.
type PageMetadata struct {
	ProductCode     string
	SelectedCountry string
	ContextPath     string
	CSRFToken       string
	Languages       []LanguageOption
}

var (
	csrfPattern        = regexp.MustCompile(`ACC\.config\.CSRFToken\s*=\s*'([^']+)'`)
	contextPathPattern = regexp.MustCompile(`ACC\.config\.encodedContextPath\s*=\s*'([^']+)'`)
)

// ParseProductPage extracts the SDS form state from product page HTML.
// A missing CSRF token is not an error here; the caller degrades to a
// tokenless request and logs it distinctly.
func ParseProductPage(html string) (*PageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	meta := &PageMetadata{
		ProductCode:     strings.TrimSpace(doc.Find("input#sdsProductCode").AttrOr("value", "")),
		SelectedCountry: strings.TrimSpace(doc.Find("input#selectedCountry").AttrOr("value", "")),
		ContextPath:     "/",
	}
	if meta.ProductCode == "" || meta.SelectedCountry == "" {
		return nil, ErrNoDocumentMetadata
	}

	if m := csrfPattern.FindStringSubmatch(html); m != nil {
		meta.CSRFToken = m[1]
	}
	if m := contextPathPattern.FindStringSubmatch(html); m != nil {
		if p := strings.ReplaceAll(m[1], `\/`, "/"); p != "" {
			meta.ContextPath = p
		}
	}

	doc.Find("select#langSelector option").Each(func(_ int, opt *goquery.Selection) {
		code := strings.TrimSpace(opt.AttrOr("value", ""))
		if code == "" {
			return
		}
		meta.Languages = append(meta.Languages, LanguageOption{
			Code:  code,
			Label: strings.TrimSpace(opt.Text()),
		})
	})

	return meta, nil
}

// Offers reports whether the page's language selector lists lang. An empty
// selector imposes no restriction.
func (m *PageMetadata) Offers(lang string) bool {
	if len(m.Languages) == 0 {
		return true
	}
	want := models.NormalizeLanguage(lang)
	for _, opt := range m.Languages {
		if models.NormalizeLanguage(opt.Code) == want {
			return true
		}
	}
	return false
}
