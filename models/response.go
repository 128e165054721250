package models

import "github.com/use-agent/clearance/cookies"

// FetchResponse is the response body for POST /api/v1/fetch.
type FetchResponse struct {
	Success    bool              `json:"success"`
	StatusCode int               `json:"status_code,omitempty"`
	FinalURL   string            `json:"final_url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Title      string            `json:"title,omitempty"`

	// Strategy names the cascade strategy that produced the response.
	Strategy string `json:"strategy,omitempty"`

	// UserAgent is the session user agent after the fetch.
	UserAgent string `json:"user_agent,omitempty"`

	// CacheStatus is "hit", "miss" or empty when caching was not requested.
	CacheStatus string `json:"cache_status,omitempty"`

	Timing TimingInfo `json:"timing"`

	// Attempts is filled on BYPASS_FAILED.
	Attempts []AttemptRecord `json:"attempts,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent on a request.
type TimingInfo struct {
	TotalMs int64 `json:"total_ms"`
}

// ErrorResponse is the envelope for requests that fail before reaching a
// handler, such as authentication and rate limiting.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// NewErrorResponse builds an ErrorResponse from a code and message.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: &ErrorDetail{Code: code, Message: message}}
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string           `json:"status"` // "healthy" or "degraded"
	Uptime     string           `json:"uptime"`
	Strategies []StrategyStatus `json:"strategies"`
	LastMethod string           `json:"last_method,omitempty"`
	Cookies    int              `json:"cookies"`
	Harvests   int              `json:"active_harvests"`
	Version    string           `json:"version"`
}

// StrategyStatus reports whether a cascade strategy is active.
type StrategyStatus struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// CookiesResponse is the response for the /api/v1/cookies endpoints.
type CookiesResponse struct {
	Count     int              `json:"count"`
	UserAgent string           `json:"user_agent,omitempty"`
	Cookies   []cookies.Cookie `json:"cookies"`
	Imported  int              `json:"imported,omitempty"`
}
