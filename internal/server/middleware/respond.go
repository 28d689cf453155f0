package middleware

import (
	"encoding/json"
	"net/http"
)

// deny writes a JSON {"error": msg} body with the given status.
func deny(w http.ResponseWriter, status int, msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
