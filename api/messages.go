package api

import "time"

type associateRequest struct {
	SessionID string `json:"sessionId"`
	AppID     string `json:"appId,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}
