package controller

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"

	"weatherpipe/internal/modules/weather/pipeline"
	"weatherpipe/internal/modules/weather/types"
)

// Reader is the read side of the weather store used by the API.
type Reader interface {
	GetLatestByLocation(ctx context.Context, name string) (*types.Record, error)
	GetHistoryByLocation(ctx context.Context, name string, limit int) ([]types.Record, error)
	GetAllLocations(ctx context.Context) ([]string, error)
	GetLocations(ctx context.Context) ([]types.Location, error)
	GetRecent(ctx context.Context, limit int) ([]types.Record, error)
	GetStats(ctx context.Context) (types.Stats, error)
}

// Updater fetches fresh observations on demand.
type Updater interface {
	FetchAndStore(ctx context.Context, query string) (pipeline.Result, error)
	BatchUpdate(ctx context.Context, queries []string) []pipeline.BatchResult
	Summary(ctx context.Context, name string, limit int) (types.Summary, error)
}

type WeatherController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type weatherControllerImpl struct {
	repository Reader
	updater    Updater
	validate   *validator.Validate
}

func NewWeatherController(repository Reader, updater Updater) WeatherController {
	return &weatherControllerImpl{
		repository: repository,
		updater:    updater,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (c *weatherControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/locations", c.handleLocations)
	mux.HandleFunc("GET /api/locations/summary", c.handleLocationSummaries)
	mux.HandleFunc("GET /api/stats", c.handleStats)
	mux.HandleFunc("GET /api/records/recent", c.handleRecent)
	mux.HandleFunc("GET /api/weather/{location}/latest", c.handleLatest)
	mux.HandleFunc("GET /api/weather/{location}/history", c.handleHistory)
	mux.HandleFunc("GET /api/weather/{location}/summary", c.handleSummary)
	mux.HandleFunc("POST /api/weather/fetch", c.handleFetch)
}
