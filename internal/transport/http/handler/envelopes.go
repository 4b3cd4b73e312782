package handler

import (
	"encoding/json"
	"net/http"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DataEnvelope wraps a single resource.
type DataEnvelope struct {
	Data interface{} `json:"data"`
}

// MarkAllReadEnvelope reports how many receipts a mark-all-read wrote.
type MarkAllReadEnvelope struct {
	Message string `json:"message"`
	Marked  int    `json:"marked"`
}

// PollEnvelope is the long-poll response. Notification is null on timeout.
type PollEnvelope struct {
	Notification interface{} `json:"notification"`
	Received     bool        `json:"received"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}
