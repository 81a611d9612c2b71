package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"weatherpipe/internal/modules/weather/client"
	"weatherpipe/internal/modules/weather/pipeline"
	"weatherpipe/internal/modules/weather/types"
)

type mockRepo struct {
	names        []string
	namesErr     error
	locations    []types.Location
	locationsErr error
	latest       *types.Record
	latestErr    error
	history      []types.Record
	historyErr   error
	recent       []types.Record
	recentErr    error
	stats        types.Stats
	statsErr     error

	gotName  string
	gotLimit int
}

func (m *mockRepo) GetLatestByLocation(_ context.Context, name string) (*types.Record, error) {
	m.gotName = name
	return m.latest, m.latestErr
}

func (m *mockRepo) GetHistoryByLocation(_ context.Context, name string, limit int) ([]types.Record, error) {
	m.gotName, m.gotLimit = name, limit
	return m.history, m.historyErr
}

func (m *mockRepo) GetAllLocations(context.Context) ([]string, error) {
	return m.names, m.namesErr
}

func (m *mockRepo) GetLocations(context.Context) ([]types.Location, error) {
	return m.locations, m.locationsErr
}

func (m *mockRepo) GetRecent(_ context.Context, limit int) ([]types.Record, error) {
	m.gotLimit = limit
	return m.recent, m.recentErr
}

func (m *mockRepo) GetStats(context.Context) (types.Stats, error) {
	return m.stats, m.statsErr
}

type mockUpdater struct {
	result  pipeline.Result
	err     error
	batch   []pipeline.BatchResult
	summary types.Summary
	sumErr  error

	gotQuery   string
	gotQueries []string
	gotLimit   int
}

func (m *mockUpdater) FetchAndStore(_ context.Context, query string) (pipeline.Result, error) {
	m.gotQuery = query
	return m.result, m.err
}

func (m *mockUpdater) BatchUpdate(_ context.Context, queries []string) []pipeline.BatchResult {
	m.gotQueries = queries
	return m.batch
}

func (m *mockUpdater) Summary(_ context.Context, name string, limit int) (types.Summary, error) {
	m.gotLimit = limit
	return m.summary, m.sumErr
}

func newTestController(repo *mockRepo, up *mockUpdater) *weatherControllerImpl {
	return NewWeatherController(repo, up).(*weatherControllerImpl)
}

func serve(t *testing.T, ctrl *weatherControllerImpl, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	ctrl.RegisterRoutes(mux)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	msg, _ := body["message"].(string)
	return msg
}

var london = types.Record{
	ID:           7,
	LocationName: "London",
	Country:      "United Kingdom",
	ObservedAt:   time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC),
	TemperatureC: 18.5,
	Humidity:     72,
}

func Test_handleLocations(t *testing.T) {
	t.Run("returns names", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{names: []string{"London", "Paris"}}, &mockUpdater{}), http.MethodGet, "/api/locations", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		var got []string
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != 2 || got[0] != "London" || got[1] != "Paris" {
			t.Errorf("names = %v", got)
		}
	})

	t.Run("empty store returns empty array", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{}, &mockUpdater{}), http.MethodGet, "/api/locations", "")

		if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
			t.Errorf("body = %q; want []", got)
		}
	})

	t.Run("returns 500 when repository fails", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{namesErr: errors.New("db error")}, &mockUpdater{}), http.MethodGet, "/api/locations", "")

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
		if strings.Contains(rec.Body.String(), "db error") {
			t.Errorf("body leaks storage error: %q", rec.Body.String())
		}
	})
}

func Test_handleLocationSummaries(t *testing.T) {
	repo := &mockRepo{locations: []types.Location{{Name: "London", Country: "United Kingdom", RecordCount: 3}}}
	rec := serve(t, newTestController(repo, &mockUpdater{}), http.MethodGet, "/api/locations/summary", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"recordCount":3`) {
		t.Errorf("body = %q; expected recordCount", body)
	}
}

func Test_handleStats(t *testing.T) {
	t.Run("returns stats", func(t *testing.T) {
		repo := &mockRepo{stats: types.Stats{TotalRecords: 10, TotalLocations: 2}}
		rec := serve(t, newTestController(repo, &mockUpdater{}), http.MethodGet, "/api/stats", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		body := rec.Body.String()
		if !strings.Contains(body, `"totalRecords":10`) || !strings.Contains(body, `"totalLocations":2`) {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("returns 500 when repository fails", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{statsErr: errors.New("boom")}, &mockUpdater{}), http.MethodGet, "/api/stats", "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

func Test_handleRecent(t *testing.T) {
	t.Run("returns records with limit", func(t *testing.T) {
		repo := &mockRepo{recent: []types.Record{london}}
		rec := serve(t, newTestController(repo, &mockUpdater{}), http.MethodGet, "/api/records/recent?limit=3", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if repo.gotLimit != 3 {
			t.Errorf("limit = %d; want 3", repo.gotLimit)
		}
		if body := rec.Body.String(); !strings.Contains(body, `"locationName":"London"`) {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("empty store returns empty array", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{}, &mockUpdater{}), http.MethodGet, "/api/records/recent", "")
		if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
			t.Errorf("body = %q; want []", got)
		}
	})

	t.Run("returns 500 when repository fails", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{recentErr: errors.New("db error")}, &mockUpdater{}), http.MethodGet, "/api/records/recent", "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

func Test_handleLatest(t *testing.T) {
	t.Run("returns latest record", func(t *testing.T) {
		rec0 := london
		repo := &mockRepo{latest: &rec0}
		rec := serve(t, newTestController(repo, &mockUpdater{}), http.MethodGet, "/api/weather/london/latest", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if repo.gotName != "london" {
			t.Errorf("repository got %q; want london", repo.gotName)
		}
		var got types.Record
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.LocationName != "London" || got.TemperatureC != 18.5 {
			t.Errorf("record = %+v", got)
		}
	})

	t.Run("escaped location with spaces", func(t *testing.T) {
		repo := &mockRepo{}
		serve(t, newTestController(repo, &mockUpdater{}), http.MethodGet, "/api/weather/New%20York/latest", "")
		if repo.gotName != "New York" {
			t.Errorf("repository got %q; want New York", repo.gotName)
		}
	})

	t.Run("returns 404 when no data yet", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{}, &mockUpdater{}), http.MethodGet, "/api/weather/Atlantis/latest", "")

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusNotFound)
		}
		if msg := decodeError(t, rec); !strings.Contains(msg, "no data yet") {
			t.Errorf("message = %q; want no data yet", msg)
		}
	})

	t.Run("returns 400 when location is blank", func(t *testing.T) {
		ctrl := newTestController(&mockRepo{}, &mockUpdater{})
		req := httptest.NewRequest(http.MethodGet, "/api/weather/%20/latest", nil)
		req.SetPathValue("location", " ")
		rec := httptest.NewRecorder()

		ctrl.handleLatest(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("returns 500 when repository fails", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{latestErr: errors.New("db error")}, &mockUpdater{}), http.MethodGet, "/api/weather/London/latest", "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

func Test_handleHistory(t *testing.T) {
	t.Run("default limit", func(t *testing.T) {
		repo := &mockRepo{history: []types.Record{london}}
		rec := serve(t, newTestController(repo, &mockUpdater{}), http.MethodGet, "/api/weather/London/history", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if repo.gotLimit != defaultHistoryLimit {
			t.Errorf("limit = %d; want %d", repo.gotLimit, defaultHistoryLimit)
		}
	})

	t.Run("explicit limit", func(t *testing.T) {
		repo := &mockRepo{history: []types.Record{london}}
		serve(t, newTestController(repo, &mockUpdater{}), http.MethodGet, "/api/weather/London/history?limit=5", "")
		if repo.gotLimit != 5 {
			t.Errorf("limit = %d; want 5", repo.gotLimit)
		}
	})

	t.Run("returns 404 when empty", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{}, &mockUpdater{}), http.MethodGet, "/api/weather/London/history", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("returns 400 when limit is invalid", func(t *testing.T) {
		rec := serve(t, newTestController(&mockRepo{}, &mockUpdater{}), http.MethodGet, "/api/weather/London/history?limit=abc", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func Test_handleSummary(t *testing.T) {
	t.Run("returns summary", func(t *testing.T) {
		rec0 := london
		up := &mockUpdater{summary: types.Summary{Location: "London", RecordsFound: 2, Latest: &rec0, AvgTemperatureC: 17}}
		rec := serve(t, newTestController(&mockRepo{}, up), http.MethodGet, "/api/weather/London/summary?limit=48", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
		}
		if up.gotLimit != 48 {
			t.Errorf("limit = %d; want 48", up.gotLimit)
		}
		if body := rec.Body.String(); !strings.Contains(body, `"recordsFound":2`) {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("returns 404 when no records", func(t *testing.T) {
		up := &mockUpdater{summary: types.Summary{Location: "Atlantis"}}
		rec := serve(t, newTestController(&mockRepo{}, up), http.MethodGet, "/api/weather/Atlantis/summary", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("returns 500 when store fails", func(t *testing.T) {
		up := &mockUpdater{sumErr: errors.New("db error")}
		rec := serve(t, newTestController(&mockRepo{}, up), http.MethodGet, "/api/weather/London/summary", "")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

func Test_handleFetch_Single(t *testing.T) {
	t.Run("new record returns 201", func(t *testing.T) {
		up := &mockUpdater{result: pipeline.Result{ID: 7, Inserted: true, Record: london}}
		rec := serve(t, newTestController(&mockRepo{}, up), http.MethodPost, "/api/weather/fetch", `{"locations":[" London "]}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d; want %d (%s)", rec.Code, http.StatusCreated, rec.Body.String())
		}
		if up.gotQuery != "London" {
			t.Errorf("query = %q; want trimmed London", up.gotQuery)
		}
		var got pipeline.Result
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != 7 || !got.Inserted || got.Record.LocationName != "London" {
			t.Errorf("result = %+v", got)
		}
	})

	t.Run("overwrite returns 200", func(t *testing.T) {
		up := &mockUpdater{result: pipeline.Result{ID: 7, Record: london}}
		rec := serve(t, newTestController(&mockRepo{}, up), http.MethodPost, "/api/weather/fetch", `{"locations":["London"]}`)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d; want %d", rec.Code, http.StatusOK)
		}
	})

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{name: "not found", err: &client.Error{Kind: client.ErrNotFound, APICode: 1006}, status: http.StatusNotFound, message: "more specific"},
		{name: "rate limit", err: &client.Error{Kind: client.ErrRateLimit, StatusCode: 429}, status: http.StatusTooManyRequests, message: "rate limit"},
		{name: "auth", err: &client.Error{Kind: client.ErrAuth, StatusCode: 401}, status: http.StatusBadGateway, message: "API key"},
		{name: "network", err: &client.Error{Kind: client.ErrNetwork, Err: errors.New("dial tcp: refused")}, status: http.StatusBadGateway, message: "network error"},
		{name: "malformed", err: &client.Error{Kind: client.ErrMalformedResponse, Field: "current.temp_c"}, status: http.StatusBadGateway, message: "current.temp_c"},
		{name: "storage", err: errors.New("store \"London\": database is locked"), status: http.StatusInternalServerError, message: "failed to store"},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, message: "canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpdater{err: tt.err}
			rec := serve(t, newTestController(&mockRepo{}, up), http.MethodPost, "/api/weather/fetch", `{"locations":["Atlantis"]}`)

			if rec.Code != tt.status {
				t.Errorf("status = %d; want %d", rec.Code, tt.status)
			}
			if msg := decodeError(t, rec); !strings.Contains(msg, tt.message) {
				t.Errorf("message = %q; want it to contain %q", msg, tt.message)
			}
		})
	}
}

func Test_handleFetch_Batch(t *testing.T) {
	rec0 := london
	up := &mockUpdater{batch: []pipeline.BatchResult{
		{Location: "London", Success: true, ID: 7, Inserted: true, Record: &rec0},
		{Location: "Atlantis", Err: &client.Error{Kind: client.ErrNotFound, Query: "Atlantis"}},
	}}
	rec := serve(t, newTestController(&mockRepo{}, up), http.MethodPost, "/api/weather/fetch", `{"locations":["London","Atlantis"]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", rec.Code, http.StatusOK)
	}
	if len(up.gotQueries) != 2 {
		t.Fatalf("queries = %v", up.gotQueries)
	}
	var got fetchResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Succeeded != 1 || got.Failed != 1 {
		t.Errorf("counts = %d/%d; want 1/1", got.Succeeded, got.Failed)
	}
	if got.Results[0].Location != "London" || !got.Results[0].Success || got.Results[0].Record == nil {
		t.Errorf("results[0] = %+v", got.Results[0])
	}
	if got.Results[1].Success || got.Results[1].Kind != "location_not_found" || got.Results[1].Error == "" {
		t.Errorf("results[1] = %+v", got.Results[1])
	}
}

func Test_handleFetch_InvalidBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "not json", body: `locations=London`, message: "invalid JSON"},
		{name: "unknown field", body: `{"location":"London"}`, message: "invalid JSON"},
		{name: "missing locations", body: `{}`, message: "required"},
		{name: "empty list", body: `{"locations":[]}`, message: "at least one"},
		{name: "blank entry", body: `{"locations":["London","  "]}`, message: "empty entries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpdater{}
			rec := serve(t, newTestController(&mockRepo{}, up), http.MethodPost, "/api/weather/fetch", tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d; want %d", rec.Code, http.StatusBadRequest)
			}
			if msg := decodeError(t, rec); !strings.Contains(msg, tt.message) {
				t.Errorf("message = %q; want it to contain %q", msg, tt.message)
			}
			if up.gotQuery != "" || up.gotQueries != nil {
				t.Error("updater called for an invalid request")
			}
		})
	}
}

func Test_routes_MethodNotAllowed(t *testing.T) {
	rec := serve(t, newTestController(&mockRepo{}, &mockUpdater{}), http.MethodGet, "/api/weather/fetch", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
