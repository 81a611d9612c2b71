package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"weatherpipe/internal/modules/weather/client"
	"weatherpipe/internal/modules/weather/repository"
)

func Test_parseLimit(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{name: "default", query: "", want: defaultHistoryLimit},
		{name: "valid", query: "limit=10", want: 10},
		{name: "max", query: "limit=1000", want: 1000},
		{name: "not a number", query: "limit=ten", wantErr: true},
		{name: "zero", query: "limit=0", wantErr: true},
		{name: "negative", query: "limit=-3", wantErr: true},
		{name: "too large", query: "limit=1001", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/weather/London/history?"+tt.query, nil)
			got, err := parseLimit(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLimit() error = %v; wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseLimit() = %d; want %d", got, tt.want)
			}
		})
	}
}

func Test_kindLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: errors.New("disk full"), want: "storage"},
		{err: &client.Error{Kind: client.ErrRateLimit}, want: "rate_limited"},
		{err: &client.Error{Kind: client.ErrMalformedResponse}, want: "malformed_response"},
		{err: context.Canceled, want: "canceled"},
		{err: context.DeadlineExceeded, want: "canceled"},
		{err: fmt.Errorf("%w: upsert: %w", repository.ErrStorage, context.Canceled), want: "canceled"},
		{err: &client.Error{Kind: client.ErrNetwork, Err: context.DeadlineExceeded}, want: "network_error"},
	}
	for _, tt := range tests {
		if got := kindLabel(tt.err); got != tt.want {
			t.Errorf("kindLabel(%v) = %q; want %q", tt.err, got, tt.want)
		}
	}
}
