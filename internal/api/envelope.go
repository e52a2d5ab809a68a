package api

import (
	"encoding/json"
	"time"
)

// Request is the uniform RPC-style envelope every surface command arrives in.
type Request struct {
	CommandID string          `json:"commandId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// Response mirrors the request's commandId so the surface can correlate.
type Response struct {
	CommandID string    `json:"commandId"`
	Status    string    `json:"status"` // "success" | "error"
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func success(commandID string, data any) Response {
	return Response{CommandID: commandID, Status: "success", Data: data, Timestamp: time.Now().UTC()}
}

func failure(commandID string, err error) Response {
	return Response{CommandID: commandID, Status: "error", Error: err.Error(), Timestamp: time.Now().UTC()}
}
