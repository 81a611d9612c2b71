package httpapi

import (
	"database/sql"
	"net/http"
)

// NewMux registers the operational endpoints. Feature routes are added by
// their module's RegisterFeature.
func NewMux(db *sql.DB, metrics http.Handler, broker BrokerStatus) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, broker)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}
