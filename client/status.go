package client

import (
	"encoding/json"
	"net/http"
)

// statusSnapshot is what the Client's status endpoint reports (spec §4.9).
type statusSnapshot struct {
	OpenTunnels int   `json:"openTunnels"`
	PoolSize    int   `json:"poolSize"`
	TotalOpened int32 `json:"totalOpened"`
}

// statusHandler builds the read-only status endpoint's http.Handler.
func (c *Client) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap := statusSnapshot{
			OpenTunnels: c.pool.Size(),
			PoolSize:    c.config.PoolSize,
			TotalOpened: c.pool.TotalOpened(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
