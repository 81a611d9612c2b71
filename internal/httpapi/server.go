package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"weatherpipe/internal/config"
)

func NewServer(cfg config.Config, mux *http.ServeMux, logger *slog.Logger, observer Observer) *http.Server {
	// requestLogger must wrap the mux directly so r.Pattern is visible after routing.
	handler := requestID(requestLogger(logger, observer, mux))
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
