// Package catalog provides the lazy product sequence produced by the
// catalog resolution stage. A cursor pulls listing pages on demand and is
// finite: it ends on a short page or when the item cap is reached. Cursors
// are not resumable; restarting means building a new one.
package catalog

import (
	"context"
	"fmt"

	"github.com/chemdocs/sds-downloader/internal/models"
)

// PageFunc fetches one listing page (1-based) of up to pageSize entries.
// entries holds the usable results; raw is the size of the page as the
// server returned it, before any filtering. Continuation is decided on raw,
// so a page thinned out by filtering does not end the listing early.
type PageFunc func(ctx context.Context, page, pageSize int) (entries []models.CatalogEntry, raw int, err error)

// Cursor is a lazy, bounded sequence of CatalogEntry.
type Cursor struct {
	fetch    PageFunc
	pageSize int
	maxItems int // 0 means unlimited

	buf     []models.CatalogEntry
	page    int
	fetches int
	yielded int
	done    bool
}

// NewCursor builds a paginated cursor. pageSize must be positive; maxItems
// of 0 means no cap.
func NewCursor(fetch PageFunc, pageSize, maxItems int) (*Cursor, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if maxItems < 0 {
		return nil, fmt.Errorf("max items must not be negative, got %d", maxItems)
	}
	return &Cursor{fetch: fetch, pageSize: pageSize, maxItems: maxItems}, nil
}

// Single returns a cursor yielding exactly one entry.
func Single(entry models.CatalogEntry) *Cursor {
	return FromEntries([]models.CatalogEntry{entry})
}

// Empty returns a cursor that yields nothing, used when a search matched
// no product.
func Empty() *Cursor {
	return FromEntries(nil)
}

// FromEntries returns a cursor over a fixed, already-resolved entry list.
func FromEntries(entries []models.CatalogEntry) *Cursor {
	return &Cursor{
		buf:      append([]models.CatalogEntry(nil), entries...),
		pageSize: len(entries) + 1, // never considered short
		done:     true,
	}
}

// Next yields the next entry in listing order, or (nil, nil) once the
// sequence is exhausted.
func (c *Cursor) Next(ctx context.Context) (*models.CatalogEntry, error) {
	if c.maxItems > 0 && c.yielded >= c.maxItems {
		return nil, nil
	}

	for len(c.buf) == 0 {
		if c.done {
			return nil, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.page++
		entries, raw, err := c.fetch(ctx, c.page, c.pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetching catalog page %d: %w", c.page, err)
		}
		c.fetches++
		if raw < c.pageSize {
			// Short raw page marks the end of the listing.
			c.done = true
		}
		c.buf = entries
	}

	entry := c.buf[0]
	c.buf = c.buf[1:]
	c.yielded++
	return &entry, nil
}

// Yielded reports how many entries have been handed out so far.
func (c *Cursor) Yielded() int { return c.yielded }

// Fetches reports how many page requests have been issued so far.
func (c *Cursor) Fetches() int { return c.fetches }
