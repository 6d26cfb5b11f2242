package agent

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// newHTTPServer builds the agent's callback server. The Flightdeck server
// POSTs to /callback to check the plugin is alive.
func (a *Agent) newHTTPServer() *http.Server {
	router := mux.NewRouter()

	router.HandleFunc("/callback", a.handleCallback).Methods(http.MethodPost, http.MethodGet)
	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/targets", a.handleTargets).Methods(http.MethodGet)

	return &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (a *Agent) handleCallback(w http.ResponseWriter, r *http.Request) {
	a.pingCount.Add(1)
	w.WriteHeader(http.StatusOK)
}

// handleHealth returns agent health status
func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	var lastSync *time.Time
	if unix := a.lastSyncUnix.Load(); unix > 0 {
		t := time.Unix(unix, 0).UTC()
		lastSync = &t
	}
	reg := a.registration()

	writeJSON(w, map[string]interface{}{
		"status":      "healthy",
		"realm":       a.cfg.Realm,
		"pluginId":    reg.ID,
		"registered":  reg.ID != "",
		"uptime":      time.Since(a.startTime).Seconds(),
		"syncCount":   a.syncCount.Load(),
		"failedSyncs": a.failedSyncs.Load(),
		"pings":       a.pingCount.Load(),
		"lastSync":    lastSync,
		"targets":     len(a.Targets()),
	})
}

// handleTargets returns the targets last published to the server.
func (a *Agent) handleTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.Targets())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
