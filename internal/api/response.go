package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON renders v as the JSON response body with the given status.
// Encode failures at this point cannot be reported to the client anymore,
// so they are dropped.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
