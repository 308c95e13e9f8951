// Package cli carries the flag surface and run wiring shared by the
// per-provider binaries. The surface is uniform: exactly one input
// selector, a language list, an output directory and category tuning.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chemdocs/sds-downloader/internal/config"
	"github.com/chemdocs/sds-downloader/internal/fetch"
	"github.com/chemdocs/sds-downloader/internal/locator"
	"github.com/chemdocs/sds-downloader/internal/models"
	"github.com/chemdocs/sds-downloader/internal/pipeline"
	"github.com/chemdocs/sds-downloader/internal/provider"
	"github.com/chemdocs/sds-downloader/internal/ratelimit"
	"github.com/chemdocs/sds-downloader/internal/session"
	"github.com/chemdocs/sds-downloader/pkg/logger"
)

// Deps is what a provider factory gets to build its client.
type Deps struct {
	Config     *config.Config
	Client     *http.Client // API/page requests, shares its jar with Download
	Download   *http.Client // binary downloads, longer timeout
	Logger     *slog.Logger
	Headless   bool
	OutputDir  string
	ProviderID string
}

// App describes one provider binary.
type App struct {
	Provider         string
	DefaultOutputDir string

	// NewProvider builds the provider client. The returned cleanup func
	// may be nil.
	NewProvider func(deps Deps) (provider.Provider, func() error, error)
}

type flags struct {
	productURL  string
	categoryURL string
	searchTerm  string
	languages   commaList
	outputDir   string
	pageSize    int
	maxProducts int
	cachePath   string
	useCache    bool
	headless    bool
}

// Run parses args (without the program name) and executes the pipeline.
// The return value is the process exit code: 0 only when at least one
// document was saved, 2 for usage errors, 1 otherwise.
func (a *App) Run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet(a.Provider+"-sds", flag.ContinueOnError)

	var f flags
	fs.StringVar(&f.productURL, "product-url", "", "Product page URL")
	fs.StringVar(&f.categoryURL, "category-url", "", "Category listing URL to crawl")
	fs.StringVar(&f.searchTerm, "search-term", "", "Search by substance name or CAS number, download for the top result")
	fs.Var(&f.languages, "languages", "Comma-separated language codes (e.g. ko,en)")
	fs.StringVar(&f.outputDir, "output", a.DefaultOutputDir, "Directory for downloaded PDFs")
	fs.IntVar(&f.pageSize, "page-size", 30, "Category page size")
	fs.IntVar(&f.maxProducts, "max-products", 0, "Limit products processed from a category (0 = unlimited)")
	fs.StringVar(&f.cachePath, "session-cache", "", "Path of the session cache file")
	fs.BoolVar(&f.useCache, "use-cached-session", false, "Reuse the session cache instead of bootstrapping")
	fs.BoolVar(&f.headless, "headless", true, "Run the helper browser headless")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if f.pageSize <= 0 || f.maxProducts < 0 {
		fmt.Fprintln(os.Stderr, "page-size must be positive and max-products must not be negative")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	loc, err := locator.Parse(a.Provider, locator.Input{
		ProductURL:  f.productURL,
		CategoryURL: f.categoryURL,
		SearchTerm:  f.searchTerm,
		Languages:   f.languages,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, locator.ErrMalformedLocator) {
			return 2
		}
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.run(ctx, cfg, log, loc, f, stdout)
}

func (a *App) run(ctx context.Context, cfg *config.Config, log *slog.Logger, loc *models.ProductLocator, f flags, stdout io.Writer) int {
	client := session.NewHTTPClient(cfg.HTTP.RequestTimeout)
	download := &http.Client{Timeout: cfg.HTTP.DownloadTimeout, Jar: client.Jar}

	deps := Deps{
		Config:     cfg,
		Client:     client,
		Download:   download,
		Logger:     log,
		Headless:   f.headless,
		OutputDir:  f.outputDir,
		ProviderID: a.Provider,
	}

	prov, cleanup, err := a.NewProvider(deps)
	if err != nil {
		log.Error("failed to build provider client", "error", err)
		return 1
	}
	if cleanup != nil {
		defer cleanup()
	}

	fetcher := fetch.New(download, f.outputDir, log)
	if d, ok := prov.(interface{ DecorateRequest(http.Header) }); ok {
		fetcher.SetHeaderDecorator(d.DecorateRequest)
	}

	limiter := ratelimit.NewAdaptiveRateLimiter(cfg.HTTP.RateLimitMin, cfg.HTTP.RateLimitMax)
	runner := pipeline.New(prov, fetcher, limiter, log)

	var cached *models.SessionContext
	if f.useCache && f.cachePath != "" {
		cached, _ = session.LoadCache(f.cachePath, a.Provider, session.DefaultCacheMaxAge)
		if cached == nil {
			log.Info("session cache unusable, bootstrapping fresh")
		}
	}

	summary, sess, err := runner.RunWithOptions(ctx, loc, pipeline.Options{
		PageSize:      f.pageSize,
		MaxItems:      f.maxProducts,
		CachedSession: cached,
	})
	if err != nil && summary == nil {
		log.Error("run aborted", "error", err)
		return 1
	}
	if err != nil {
		// Canceled mid-run: the partial summary is still reported.
		log.Warn("run interrupted", "error", err)
	}

	if f.cachePath != "" && sess != nil {
		if err := session.SaveCache(f.cachePath, sess); err != nil {
			log.Warn("failed to save session cache", "error", err)
		}
	}

	if err := printSummary(stdout, summary); err != nil {
		log.Error("failed to print summary", "error", err)
		return 1
	}

	if !summary.Succeeded() {
		return 1
	}
	return 0
}

func printSummary(w io.Writer, summary *models.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(summary)
}

// commaList is a flag.Value accepting repeated or comma-separated values.
type commaList []string

func (c *commaList) String() string {
	return fmt.Sprint([]string(*c))
}

func (c *commaList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*c = append(*c, part)
		}
	}
	return nil
}
