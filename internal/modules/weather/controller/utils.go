package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"weatherpipe/internal/modules/weather/client"
	"weatherpipe/internal/modules/weather/pipeline"
	"weatherpipe/internal/modules/weather/types"
)

const (
	defaultHistoryLimit = 24
	maxHistoryLimit     = 1000
	maxFetchBodyBytes   = 64 << 10
)

type fetchRequest struct {
	Locations []string `json:"locations" validate:"required,min=1,max=50,dive,required"`
}

type fetchItem struct {
	Location string        `json:"location"`
	Success  bool          `json:"success"`
	ID       int64         `json:"id,omitempty"`
	Inserted bool          `json:"inserted,omitempty"`
	Record   *types.Record `json:"record,omitempty"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"kind,omitempty"`
}

type fetchResponse struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []fetchItem `json:"results"`
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > maxHistoryLimit {
		return 0, fmt.Errorf("'limit' must be <= %d", maxHistoryLimit)
	}
	return n, nil
}

func locationParam(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("location"))
}

// fetchErrorStatus maps a FetchAndStore error to an HTTP status and a message
// the caller can act on.
func fetchErrorStatus(query string, err error) (int, string) {
	switch kind := client.KindOf(err); {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request canceled before the provider answered"
	case kind == client.ErrNotFound:
		return http.StatusNotFound, fmt.Sprintf("location %q not found; try a more specific query such as \"City, Country\" or \"lat,lon\"", query)
	case kind == client.ErrRateLimit:
		return http.StatusTooManyRequests, "weather provider rate limit reached; retry later"
	case kind == client.ErrInvalidQuery:
		return http.StatusBadRequest, err.Error()
	case kind == client.ErrAuth:
		return http.StatusBadGateway, "weather provider rejected the configured API key"
	case kind != nil:
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "failed to store observation"
	}
}

func kindLabel(err error) string {
	switch kind := client.KindOf(err); {
	case err == nil:
		return ""
	case kind != nil:
		return strings.ReplaceAll(kind.Error(), " ", "_")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "storage"
	}
}

func toFetchResponse(results []pipeline.BatchResult) fetchResponse {
	resp := fetchResponse{Results: make([]fetchItem, 0, len(results))}
	for _, r := range results {
		item := fetchItem{Location: r.Location, Success: r.Success, ID: r.ID, Inserted: r.Inserted, Record: r.Record}
		if r.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
			item.Error = r.Err.Error()
			item.Kind = kindLabel(r.Err)
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}
