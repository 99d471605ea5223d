package httpserver

import (
	"encoding/json"
	"net/http"
)

// webhookResponse is the raw shape the IM platform expects back; always HTTP
// 200 so the platform does not retry on semantic rejections.
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeWebhook(w http.ResponseWriter, success bool, message string) {
	writeJSON(w, http.StatusOK, webhookResponse{Success: success, Message: message})
}
