package weather

import (
	"database/sql"
	"net/http"

	"weatherpipe/internal/modules/weather/client"
	"weatherpipe/internal/modules/weather/controller"
	"weatherpipe/internal/modules/weather/pipeline"
	"weatherpipe/internal/modules/weather/repository"
)

// Feature bundles the weather store and the pipeline writing to it.
type Feature struct {
	Repository repository.WeatherRepository
	Pipeline   *pipeline.Pipeline
}

func NewFeature(db *sql.DB, fetcher client.Fetcher, opts pipeline.Options) *Feature {
	var repoOpts []repository.Option
	if opts.Logger != nil {
		repoOpts = append(repoOpts, repository.WithLogger(opts.Logger))
	}
	weatherRepository := repository.NewRepository(db, repoOpts...)
	return &Feature{
		Repository: weatherRepository,
		Pipeline:   pipeline.New(fetcher, weatherRepository, opts),
	}
}

func (f *Feature) RegisterRoutes(mux *http.ServeMux) {
	weatherController := controller.NewWeatherController(f.Repository, f.Pipeline)
	weatherController.RegisterRoutes(mux)
}
