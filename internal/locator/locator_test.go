package locator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemdocs/sds-downloader/internal/models"
)

func TestParseThermoFisher(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		wantMode models.Mode
		wantRoot string
		wantCat  string
		wantErr  bool
	}{
		{
			name:     "product url",
			input:    Input{ProductURL: "https://chemicals.thermofisher.kr/apac/product/A10862.36"},
			wantMode: models.ModeSingle,
			wantRoot: "A10862.36",
		},
		{
			name:     "category url",
			input:    Input{CategoryURL: "https://chemicals.thermofisher.kr/apac/search/category/CG-01"},
			wantMode: models.ModeCategory,
			wantCat:  "CG-01",
		},
		{
			name:     "search term",
			input:    Input{SearchTerm: "7647-01-0"},
			wantMode: models.ModeSearch,
		},
		{
			name:    "wrong domain",
			input:   Input{ProductURL: "https://example.com/apac/product/A1"},
			wantErr: true,
		},
		{
			name:    "no input",
			input:   Input{},
			wantErr: true,
		},
		{
			name:    "two inputs",
			input:   Input{ProductURL: "https://chemicals.thermofisher.kr/apac/product/A1", SearchTerm: "acetone"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := Parse(models.ProviderThermoFisher, tt.input)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedLocator)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, loc.Mode)
			assert.Equal(t, tt.wantRoot, loc.RootIdentifier)
			assert.Equal(t, tt.wantCat, loc.CategoryID)
			assert.Equal(t, "kr", loc.CountryCode)
		})
	}
}

func TestParseThermoFisherDefaultLanguages(t *testing.T) {
	loc, err := Parse(models.ProviderThermoFisher, Input{SearchTerm: "acetone"})
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "ko"}, loc.CandidateLanguages)

	loc, err = Parse(models.ProviderThermoFisher, Input{SearchTerm: "acetone", Languages: []string{"JA-jp"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ja"}, loc.CandidateLanguages)
}

func TestParseTCI(t *testing.T) {
	loc, err := Parse(models.ProviderTCI, Input{ProductURL: "https://www.tcichemicals.com/KR/ko/p/L0483"})
	require.NoError(t, err)

	assert.Equal(t, models.ModeSingle, loc.Mode)
	assert.Equal(t, "L0483", loc.RootIdentifier)
	assert.Equal(t, "KR", loc.CountryCode)
	assert.Equal(t, []string{"ko"}, loc.CandidateLanguages)

	_, err = Parse(models.ProviderTCI, Input{SearchTerm: "toluene"})
	assert.ErrorIs(t, err, ErrMalformedLocator)

	_, err = Parse(models.ProviderTCI, Input{ProductURL: "https://www.tcichemicals.com/KR/ko/product/L0483"})
	assert.ErrorIs(t, err, ErrMalformedLocator)
}

func TestParseAldrich(t *testing.T) {
	loc, err := Parse(models.ProviderAldrich, Input{ProductURL: "https://www.sigmaaldrich.com/KR/ko/product/sigald/34873"})
	require.NoError(t, err)

	assert.Equal(t, models.ModeSingle, loc.Mode)
	assert.Equal(t, "34873", loc.RootIdentifier)
	assert.Equal(t, "sigald", loc.Brand)
	assert.Equal(t, "KR", loc.CountryCode)
	assert.Equal(t, []string{"ko"}, loc.CandidateLanguages)

	loc, err = Parse(models.ProviderAldrich, Input{SearchTerm: "67-64-1", Languages: []string{"ko", "en"}})
	require.NoError(t, err)
	assert.Equal(t, models.ModeSearch, loc.Mode)
	assert.Equal(t, "67-64-1", loc.SearchTerm)
	assert.Equal(t, []string{"en", "ko"}, loc.CandidateLanguages)

	_, err = Parse(models.ProviderAldrich, Input{CategoryURL: "https://www.sigmaaldrich.com/KR/ko/products/chemistry"})
	assert.ErrorIs(t, err, ErrMalformedLocator)

	_, err = Parse(models.ProviderAldrich, Input{ProductURL: "https://www.sigmaaldrich.com/KR/ko/sds/sigald/34873"})
	assert.ErrorIs(t, err, ErrMalformedLocator)
}

func TestParseUnknownProvider(t *testing.T) {
	_, err := Parse("acme", Input{SearchTerm: "x"})
	assert.ErrorIs(t, err, ErrMalformedLocator)
}
