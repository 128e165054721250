package models

import (
	"sync"
	"time"
)

// HarvestResponse is the immediate response for POST /api/v1/harvest.
type HarvestResponse struct {
	ID    string       `json:"id"`
	State string       `json:"state"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// HarvestStatusResponse is the response for GET /api/v1/harvest/:id.
type HarvestStatusResponse struct {
	ID        string         `json:"id"`
	State     string         `json:"state"`
	Status    string         `json:"status,omitempty"`
	Applied   bool           `json:"applied"`
	CreatedAt int64          `json:"created_at"`
	Result    *HarvestResult `json:"result,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
}

// HarvestResult summarises captured cookies. CookieFile is the Netscape
// text.
type HarvestResult struct {
	CookieFile string   `json:"cookie_file"`
	Cookies    []string `json:"cookies"`
	UserAgent  string   `json:"user_agent"`
	FinalURL   string   `json:"final_url"`
	ElapsedMs  int64    `json:"elapsed_ms"`
}

// HarvestJob tracks one background harvest. Fields other than the
// identity block are guarded by mu; use Snapshot to read them.
type HarvestJob struct {
	ID            string
	CreatedAt     int64 // unix timestamp
	WebhookURL    string
	WebhookSecret string
	Apply         bool

	// Stop cancels the running worker.
	Stop func()

	mu      sync.Mutex
	state   string
	status  string
	applied bool
	result  *HarvestResult
	err     *ErrorDetail
	ended   time.Time
}

// Update records a state transition and optional status line.
func (j *HarvestJob) Update(state, status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	if status != "" {
		j.status = status
	}
}

// Finish records the terminal outcome.
func (j *HarvestJob) Finish(state string, result *HarvestResult, applied bool, err *ErrorDetail) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	j.result = result
	j.applied = applied
	j.err = err
	j.ended = time.Now()
}

// Done reports whether the job has finished.
func (j *HarvestJob) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.ended.IsZero()
}

// Snapshot returns the job as an API response.
func (j *HarvestJob) Snapshot() HarvestStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return HarvestStatusResponse{
		ID:        j.ID,
		State:     j.state,
		Status:    j.status,
		Applied:   j.applied,
		CreatedAt: j.CreatedAt,
		Result:    j.result,
		Error:     j.err,
	}
}
