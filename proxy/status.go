package proxy

import (
	"encoding/json"
	"net/http"
)

// statusSnapshot is what the Proxy's status endpoint reports (spec §4.9).
type statusSnapshot struct {
	IdleTunnels     int   `json:"idleTunnels"`
	WaitingRequests int   `json:"waitingRequests"`
	ActivePairings  int32 `json:"activePairings"`
	TotalPairings   int32 `json:"totalPairings"`
}

// statusHandler builds the read-only status endpoint's http.Handler.
func (p *Proxy) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		active, total := p.dispatcher.PairingCounts()
		snap := statusSnapshot{
			IdleTunnels:     p.dispatcher.IdleTunnelCount(),
			WaitingRequests: p.dispatcher.WaitingRequestCount(),
			ActivePairings:  active,
			TotalPairings:   total,
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
