package controller

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"weatherpipe/internal/modules/weather/types"
	"weatherpipe/internal/utils"
)

func (c *weatherControllerImpl) handleLocations(w http.ResponseWriter, r *http.Request) {
	names, err := c.repository.GetAllLocations(r.Context())
	if err != nil {
		slog.Error("get locations failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load locations")
		return
	}
	if names == nil {
		names = []string{}
	}
	utils.WriteJSON(w, http.StatusOK, names)
}

func (c *weatherControllerImpl) handleLocationSummaries(w http.ResponseWriter, r *http.Request) {
	locations, err := c.repository.GetLocations(r.Context())
	if err != nil {
		slog.Error("get location summaries failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load locations")
		return
	}
	utils.WriteJSON(w, http.StatusOK, locations)
}

func (c *weatherControllerImpl) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.repository.GetStats(r.Context())
	if err != nil {
		slog.Error("get stats failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

// handleRecent lists the newest records across all locations.
func (c *weatherControllerImpl) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := c.repository.GetRecent(r.Context(), limit)
	if err != nil {
		slog.Error("get recent failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load records")
		return
	}
	if records == nil {
		records = []types.Record{}
	}
	utils.WriteJSON(w, http.StatusOK, records)
}

func (c *weatherControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	name := locationParam(r)
	if name == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing location")
		return
	}

	rec, err := c.repository.GetLatestByLocation(r.Context(), name)
	if err != nil {
		slog.Error("get latest failed", "location", name, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load latest observation")
		return
	}
	if rec == nil {
		utils.WriteError(w, http.StatusNotFound, "no data yet for "+name)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (c *weatherControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := locationParam(r)
	if name == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing location")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := c.repository.GetHistoryByLocation(r.Context(), name, limit)
	if err != nil {
		slog.Error("get history failed", "location", name, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if len(history) == 0 {
		utils.WriteError(w, http.StatusNotFound, "no data yet for "+name)
		return
	}
	utils.WriteJSON(w, http.StatusOK, history)
}

func (c *weatherControllerImpl) handleSummary(w http.ResponseWriter, r *http.Request) {
	name := locationParam(r)
	if name == "" {
		utils.WriteError(w, http.StatusBadRequest, "missing location")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := c.updater.Summary(r.Context(), name, limit)
	if err != nil {
		slog.Error("summary failed", "location", name, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	if summary.RecordsFound == 0 {
		utils.WriteError(w, http.StatusNotFound, "no data yet for "+name)
		return
	}
	utils.WriteJSON(w, http.StatusOK, summary)
}

// handleFetch refreshes one or more locations. A single location answers with
// the stored result or a mapped error status; several locations always answer
// 200 with per-entry outcomes.
func (c *weatherControllerImpl) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := utils.DecodeJSON(w, r, &req, maxFetchBodyBytes); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for i := range req.Locations {
		req.Locations[i] = strings.TrimSpace(req.Locations[i])
	}
	if err := c.validate.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if len(req.Locations) == 1 {
		query := req.Locations[0]
		res, err := c.updater.FetchAndStore(r.Context(), query)
		if err != nil {
			status, msg := fetchErrorStatus(query, err)
			utils.WriteError(w, status, msg)
			return
		}
		status := http.StatusOK
		if res.Inserted {
			status = http.StatusCreated
		}
		utils.WriteJSON(w, status, res)
		return
	}

	utils.WriteJSON(w, http.StatusOK, toFetchResponse(c.updater.BatchUpdate(r.Context(), req.Locations)))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		if fe.Field() == "Locations" {
			return "'locations' is required"
		}
		return "'locations' must not contain empty entries"
	case "min":
		return "'locations' must contain at least one entry"
	case "max":
		return "'locations' must contain at most " + fe.Param() + " entries"
	default:
		return "invalid 'locations'"
	}
}
