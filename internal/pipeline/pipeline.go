// Package pipeline connects the retrieval stages: session bootstrap,
// catalog resolution, variant enumeration, document resolution, fetch and
// summary aggregation. The flow is sequential per product and per language
// to stay under provider rate limits and to keep the per-product CSRF
// state consistent.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/chemdocs/sds-downloader/internal/fetch"
	"github.com/chemdocs/sds-downloader/internal/models"
	"github.com/chemdocs/sds-downloader/internal/provider"
	"github.com/chemdocs/sds-downloader/internal/ratelimit"
)

// Runner executes one retrieval run against one provider.
type Runner struct {
	provider provider.Provider
	fetcher  *fetch.Fetcher
	limiter  *ratelimit.AdaptiveRateLimiter
	logger   *slog.Logger
}

// Options tune a single run.
type Options struct {
	PageSize      int
	MaxItems      int
	CachedSession *models.SessionContext
}

func New(p provider.Provider, f *fetch.Fetcher, limiter *ratelimit.AdaptiveRateLimiter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		provider: p,
		fetcher:  f,
		limiter:  limiter,
		logger:   logger.With("component", "pipeline"),
	}
}

// Run executes the pipeline and returns the summary, the session in effect
// at run end (for caching), and an error only for conditions that abort
// before any output is meaningful: session establishment and cancellation.
// On cancellation the partial summary is still returned.
func (r *Runner) Run(ctx context.Context, loc *models.ProductLocator) (*models.RunSummary, *models.SessionContext, error) {
	return r.RunWithOptions(ctx, loc, Options{PageSize: 30})
}

func (r *Runner) RunWithOptions(ctx context.Context, loc *models.ProductLocator, opts Options) (*models.RunSummary, *models.SessionContext, error) {
	summary := newSummary(loc)

	sess, err := r.provider.Bootstrap(ctx, loc, opts.CachedSession)
	if err != nil {
		return nil, nil, err
	}

	state := &runState{
		sess:      sess,
		refreshed: false,
	}

	cursor, err := r.provider.ResolveCatalog(ctx, state.sess, loc, provider.CatalogOptions{
		PageSize: opts.PageSize,
		MaxItems: opts.MaxItems,
	})
	if err != nil {
		if errors.Is(err, provider.ErrNoMatch) {
			r.logger.Info("search matched no product", "term", loc.SearchTerm)
			summary.Notes["noMatch"] = true
			return summary, state.sess, nil
		}
		// Catalog resolution failed after a good bootstrap; report a
		// structured empty result instead of aborting.
		r.logger.Error("catalog resolution failed", "error", err)
		summary.Notes["error"] = err.Error()
		return summary, state.sess, nil
	}

	var processed []string
	var skipped []string

	for {
		if ctx.Err() != nil {
			finishNotes(summary, cursor.Yielded(), processed, skipped)
			return summary, state.sess, ctx.Err()
		}

		entry, err := cursor.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				finishNotes(summary, cursor.Yielded(), processed, skipped)
				return summary, state.sess, ctx.Err()
			}
			r.logger.Error("catalog crawl stopped", "error", err)
			summary.Notes["error"] = err.Error()
			break
		}
		if entry == nil {
			break
		}

		saved, err := r.processProduct(ctx, state, loc, *entry, summary)
		if err != nil {
			if ctx.Err() != nil {
				finishNotes(summary, cursor.Yielded(), processed, skipped)
				return summary, state.sess, ctx.Err()
			}
			r.logger.Warn("skipping product", "root", entry.RootIdentifier, "error", err)
			skipped = append(skipped, entry.RootIdentifier)
			continue
		}
		if saved {
			processed = append(processed, entry.RootIdentifier)
		}
	}

	finishNotes(summary, cursor.Yielded(), processed, skipped)
	return summary, state.sess, nil
}

type runState struct {
	sess      *models.SessionContext
	refreshed bool
}

// processProduct runs enumeration, preparation and per-language document
// retrieval for one catalog entry. The returned error is per-product:
// the caller records the skip and moves on.
func (r *Runner) processProduct(ctx context.Context, state *runState, loc *models.ProductLocator, entry models.CatalogEntry, summary *models.RunSummary) (bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}

	variants, err := r.provider.EnumerateVariants(ctx, state.sess, entry)
	if err != nil {
		return false, err
	}

	pc, err := r.provider.PrepareProduct(ctx, state.sess, entry, variants)
	if err != nil {
		return false, err
	}

	savedAny := false
	for _, language := range loc.CandidateLanguages {
		outcome := r.retrieveDocument(ctx, state, loc, pc, language)
		if outcome == nil {
			// Canceled before the document was attempted; only completed
			// outcomes belong in the summary.
			break
		}
		summary.Downloads = append(summary.Downloads, *outcome)
		if outcome.Status == models.StatusSaved {
			savedAny = true
			r.limiter.RecordSuccess()
		} else if outcome.Status == models.StatusFailed {
			r.limiter.RecordError()
		}
		if ctx.Err() != nil {
			break
		}
	}
	return savedAny, nil
}

// retrieveDocument resolves and fetches one (product, language) document,
// applying the single session-refresh retry on an expiry signal. A nil
// return means the run was canceled before the document was attempted and
// no outcome should be recorded.
func (r *Runner) retrieveDocument(ctx context.Context, state *runState, loc *models.ProductLocator, pc *provider.ProductContext, language string) *models.DownloadOutcome {
	doc, err := r.provider.ResolveDocument(ctx, state.sess, pc, language)
	if err != nil {
		if errors.Is(err, provider.ErrLanguageUnavailable) {
			r.logger.Info("language not offered", "root", pc.Entry.RootIdentifier, "language", language)
			return &models.DownloadOutcome{
				Languages: []string{language},
				SourceURL: pc.PageURL,
				Status:    models.StatusSkippedMissing,
				Metadata:  map[string]string{"rootSku": pc.Entry.RootIdentifier},
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("document resolution failed", "root", pc.Entry.RootIdentifier, "language", language, "error", err)
		return &models.DownloadOutcome{
			Languages: []string{language},
			SourceURL: pc.PageURL,
			Status:    models.StatusFailed,
			Metadata:  map[string]string{"error": err.Error()},
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil
	}

	outcome, err := r.fetcher.Fetch(ctx, state.sess, doc)
	if errors.Is(err, fetch.ErrSessionExpired) && !state.refreshed {
		state.refreshed = true
		r.logger.Warn("session rejected mid-run, refreshing once", "root", pc.Entry.RootIdentifier)

		fresh, berr := r.provider.Bootstrap(ctx, loc, nil)
		if berr != nil {
			r.logger.Error("session refresh failed", "error", berr)
			return &outcome
		}
		state.sess = fresh

		retried, _ := r.fetcher.Fetch(ctx, state.sess, doc)
		return &retried
	}
	if err != nil && !errors.Is(err, fetch.ErrSessionExpired) && ctx.Err() != nil {
		// The fetch was cut short by cancellation, not completed.
		return nil
	}
	return &outcome
}

func newSummary(loc *models.ProductLocator) *models.RunSummary {
	product := loc.RootIdentifier
	if product == "" {
		product = string(loc.Mode)
	}

	notes := map[string]any{"mode": string(loc.Mode)}
	if loc.CategoryID != "" {
		notes["categoryId"] = loc.CategoryID
	}
	if loc.SearchTerm != "" {
		notes["searchTerm"] = loc.SearchTerm
	}

	return &models.RunSummary{
		Provider:   loc.Provider,
		Product:    product,
		Mode:       loc.Mode,
		Downloads:  []models.DownloadOutcome{},
		ProductURL: loc.ProductURL,
		Notes:      notes,
	}
}

func finishNotes(summary *models.RunSummary, yielded int, processed, skipped []string) {
	summary.Notes["crawledProducts"] = yielded
	summary.Notes["totalProducts"] = len(processed)
	if processed == nil {
		processed = []string{}
	}
	summary.Notes["products"] = processed
	if len(skipped) > 0 {
		summary.Notes["skippedProducts"] = skipped
	}
}
