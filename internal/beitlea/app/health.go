package app

import (
	"encoding/json"
	"net/http"

	"github.com/automatifie1-cpu/beit-lea/common/version"
)

// healthHandler reports liveness plus build identity, for probes and for
// checking what is actually deployed.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.GitCommit,
	})
}
