package main

import (
	"os"

	"github.com/chemdocs/sds-downloader/internal/cli"
	"github.com/chemdocs/sds-downloader/internal/models"
	"github.com/chemdocs/sds-downloader/internal/provider"
	"github.com/chemdocs/sds-downloader/internal/provider/thermofisher"
)

func main() {
	app := &cli.App{
		Provider:         models.ProviderThermoFisher,
		DefaultOutputDir: "data/sds_thermofisher",
		NewProvider: func(deps cli.Deps) (provider.Provider, func() error, error) {
			client := thermofisher.New(deps.Client, deps.Logger, thermofisher.Options{
				UserAgent: deps.Config.HTTP.UserAgent,
			})
			return client, nil, nil
		},
	}

	os.Exit(app.Run(os.Args[1:], os.Stdout))
}
