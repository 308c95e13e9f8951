package main

import (
	"os"

	"github.com/chemdocs/sds-downloader/internal/cli"
	"github.com/chemdocs/sds-downloader/internal/models"
	"github.com/chemdocs/sds-downloader/internal/provider"
	"github.com/chemdocs/sds-downloader/internal/provider/aldrich"
)

func main() {
	app := &cli.App{
		Provider:         models.ProviderAldrich,
		DefaultOutputDir: "data/sds_aldrich",
		NewProvider: func(deps cli.Deps) (provider.Provider, func() error, error) {
			client := aldrich.New(deps.Client, deps.Logger, aldrich.Options{
				UserAgent: deps.Config.HTTP.UserAgent,
			})
			return client, nil, nil
		},
	}

	os.Exit(app.Run(os.Args[1:], os.Stdout))
}
