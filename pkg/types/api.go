package types

// QueueEntry summarizes one waiting request for /status.
type QueueEntry struct {
	// First 8 characters of the request id, enough to correlate with logs.
	RequestID string `json:"request_id"`
	// Service the request wants activated.
	ServiceType ServiceType `json:"service_type"`
	// Effective priority (higher wins).
	Priority int `json:"priority"`
	// Seconds spent waiting so far.
	WaitingSeconds float64 `json:"waiting_seconds"`
}

// ArbiterMetrics carries running totals for observability. None of these
// affect scheduling decisions.
type ArbiterMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	TotalTimeouts int64   `json:"total_timeouts"`
	TimeoutRate   float64 `json:"timeout_rate"`
	AvgWaitSec    float64 `json:"avg_wait_sec"`
	AvgUsageSec   float64 `json:"avg_usage_sec"`
	FallbackMode  bool    `json:"fallback_mode"`
}

// ArbiterStatus is the full snapshot returned by GET /status.
type ArbiterStatus struct {
	GPULocked      bool           `json:"gpu_locked"`
	CurrentService ServiceType    `json:"current_service,omitempty"`
	QueueLength    int            `json:"queue_length"`
	Queue          []QueueEntry   `json:"queue"`
	VRAM           UsageSnapshot  `json:"vram_info"`
	Metrics        ArbiterMetrics `json:"metrics"`
}

// VRAMResponse is returned by GET /vram.
type VRAMResponse struct {
	Usage     UsageSnapshot `json:"usage"`
	Processes []GPUProcess  `json:"processes"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
