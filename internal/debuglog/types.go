package debuglog

import (
	"encoding/json"
	"time"
)

// Filters accepted by the backend debug log endpoint.
const (
	FilterAll           = "all"
	FilterRequest       = "request"
	FilterResponse      = "response"
	FilterError         = "error"
	FilterTokenUsage    = "token_usage"
	FilterSystemMetrics = "system_metrics"
)

func ValidFilter(f string) bool {
	switch f {
	case FilterAll, FilterRequest, FilterResponse, FilterError, FilterTokenUsage, FilterSystemMetrics:
		return true
	}
	return false
}

type Log struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"session_id"`
}

type Metrics struct {
	TotalRequests   int     `json:"total_requests"`
	TotalTokens     int     `json:"total_tokens"`
	TotalErrors     int     `json:"total_errors"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

type Logs struct {
	Logs    []Log    `json:"logs"`
	Metrics *Metrics `json:"metrics"`
}

type Token struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

func (t Token) ExpiresAt(issued time.Time) time.Time {
	return issued.Add(time.Duration(t.ExpiresIn) * time.Second)
}
