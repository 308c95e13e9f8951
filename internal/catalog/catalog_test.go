package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemdocs/sds-downloader/internal/models"
)

// listingFetcher simulates a provider listing with a fixed total size.
func listingFetcher(total int, calls *int) PageFunc {
	return func(ctx context.Context, page, pageSize int) ([]models.CatalogEntry, int, error) {
		if calls != nil {
			*calls++
		}
		start := (page - 1) * pageSize
		if start >= total {
			return nil, 0, nil
		}
		end := start + pageSize
		if end > total {
			end = total
		}
		entries := make([]models.CatalogEntry, 0, end-start)
		for i := start; i < end; i++ {
			entries = append(entries, models.CatalogEntry{RootIdentifier: fmt.Sprintf("SKU-%04d", i)})
		}
		return entries, len(entries), nil
	}
}

func drain(t *testing.T, c *Cursor) []models.CatalogEntry {
	t.Helper()
	var out []models.CatalogEntry
	for {
		entry, err := c.Next(context.Background())
		require.NoError(t, err)
		if entry == nil {
			return out
		}
		out = append(out, *entry)
	}
}

func TestCursorCapBeforeEndOfListing(t *testing.T) {
	// 250 available, page size 30, cap 100: four page fetches, 100 entries.
	var calls int
	c, err := NewCursor(listingFetcher(250, &calls), 30, 100)
	require.NoError(t, err)

	entries := drain(t, c)

	assert.Len(t, entries, 100)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 100, c.Yielded())
	assert.Equal(t, 4, c.Fetches())
}

func TestCursorShortPageEndsListing(t *testing.T) {
	var calls int
	c, err := NewCursor(listingFetcher(45, &calls), 30, 0)
	require.NoError(t, err)

	entries := drain(t, c)

	assert.Len(t, entries, 45)
	assert.Equal(t, 2, calls)
}

func TestCursorEmptyListing(t *testing.T) {
	c, err := NewCursor(listingFetcher(0, nil), 30, 0)
	require.NoError(t, err)

	entries := drain(t, c)
	assert.Empty(t, entries)
}

func TestCursorPreservesListingOrder(t *testing.T) {
	c, err := NewCursor(listingFetcher(10, nil), 4, 0)
	require.NoError(t, err)

	entries := drain(t, c)
	require.Len(t, entries, 10)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("SKU-%04d", i), e.RootIdentifier)
	}
}

func TestCursorExactMultipleOfPageSize(t *testing.T) {
	// A final empty page is needed to observe the end.
	var calls int
	c, err := NewCursor(listingFetcher(60, &calls), 30, 0)
	require.NoError(t, err)

	entries := drain(t, c)
	assert.Len(t, entries, 60)
	assert.Equal(t, 3, calls)
}

func TestSingle(t *testing.T) {
	c := Single(models.CatalogEntry{RootIdentifier: "A1"})

	entry, err := c.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "A1", entry.RootIdentifier)

	entry, err = c.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestEmpty(t *testing.T) {
	entry, err := Empty().Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestNewCursorValidation(t *testing.T) {
	_, err := NewCursor(listingFetcher(1, nil), 0, 0)
	assert.Error(t, err)

	_, err = NewCursor(listingFetcher(1, nil), 10, -1)
	assert.Error(t, err)
}

func TestCursorFilteredPageKeepsListingAlive(t *testing.T) {
	// Page 1 is full as served but thinned out by the fetcher; only the raw
	// size may end the listing.
	fetch := func(ctx context.Context, page, pageSize int) ([]models.CatalogEntry, int, error) {
		switch page {
		case 1:
			return []models.CatalogEntry{{RootIdentifier: "A1"}}, pageSize, nil
		case 2:
			return []models.CatalogEntry{{RootIdentifier: "A2"}}, 1, nil
		default:
			return nil, 0, nil
		}
	}
	c, err := NewCursor(fetch, 2, 0)
	require.NoError(t, err)

	entries := drain(t, c)
	require.Len(t, entries, 2)
	assert.Equal(t, "A1", entries[0].RootIdentifier)
	assert.Equal(t, "A2", entries[1].RootIdentifier)
	assert.Equal(t, 2, c.Fetches())
}

func TestCursorFullyFilteredPageAdvances(t *testing.T) {
	fetch := func(ctx context.Context, page, pageSize int) ([]models.CatalogEntry, int, error) {
		switch page {
		case 1:
			return nil, pageSize, nil // every entry filtered, page was full
		case 2:
			return []models.CatalogEntry{{RootIdentifier: "B1"}}, 1, nil
		default:
			return nil, 0, nil
		}
	}
	c, err := NewCursor(fetch, 3, 0)
	require.NoError(t, err)

	entries := drain(t, c)
	require.Len(t, entries, 1)
	assert.Equal(t, "B1", entries[0].RootIdentifier)
}

func TestCursorPropagatesFetchError(t *testing.T) {
	boom := func(ctx context.Context, page, pageSize int) ([]models.CatalogEntry, int, error) {
		return nil, 0, fmt.Errorf("listing endpoint down")
	}
	c, err := NewCursor(boom, 30, 0)
	require.NoError(t, err)

	_, err = c.Next(context.Background())
	assert.ErrorContains(t, err, "listing endpoint down")
}

func TestCursorHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := NewCursor(listingFetcher(100, nil), 30, 0)
	require.NoError(t, err)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
