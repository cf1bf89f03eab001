package handler

import (
	"encoding/json"
	"net/http"
)

// messageResponse is a plain acknowledgement body.
type messageResponse struct {
	Message string `json:"message"`
}

// detailResponse is the error body.
type detailResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}
