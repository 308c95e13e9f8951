package main

import (
	"context"
	"os"

	"github.com/chemdocs/sds-downloader/internal/browser"
	"github.com/chemdocs/sds-downloader/internal/cli"
	"github.com/chemdocs/sds-downloader/internal/models"
	"github.com/chemdocs/sds-downloader/internal/provider"
	"github.com/chemdocs/sds-downloader/internal/provider/tci"
)

func main() {
	app := &cli.App{
		Provider:         models.ProviderTCI,
		DefaultOutputDir: "data/sds_tci",
		NewProvider: func(deps cli.Deps) (provider.Provider, func() error, error) {
			// The browser is launched lazily: a reusable cached session
			// skips it entirely.
			collect := func(ctx context.Context, pageURL string) (*models.SessionContext, error) {
				opts := browser.DefaultOptions()
				opts.Headless = deps.Headless
				opts.UserAgent = deps.Config.HTTP.UserAgent
				opts.Timeout = deps.Config.Browser.Timeout
				opts.ViewportWidth = deps.Config.Browser.ViewportWidth
				opts.ViewportHeight = deps.Config.Browser.ViewportHeight
				opts.AcceptLanguage = deps.Config.Browser.AcceptLanguage
				opts.TimezoneID = deps.Config.Browser.TimezoneID
				opts.Locale = deps.Config.Browser.Locale

				b, err := browser.New(opts)
				if err != nil {
					return nil, err
				}
				defer b.Close()

				return b.CollectSession(models.ProviderTCI, pageURL)
			}

			return tci.New(deps.Client, deps.Logger, collect), nil, nil
		},
	}

	os.Exit(app.Run(os.Args[1:], os.Stdout))
}
