package types

// ServiceType identifies a GPU-bound workload family. Exactly one service
// owns the GPU at a time; switching between them means stopping one OS
// process and starting another.
type ServiceType string

const (
	// ServiceTextGen is the default chat/completion backend (ollama).
	ServiceTextGen ServiceType = "textgen"
	// ServiceImageGen is the image generation backend (comfyui). It needs
	// the whole card and preempts queued text requests.
	ServiceImageGen ServiceType = "imagegen"
	// ServiceOther covers ad hoc GPU consumers with no fixed process.
	ServiceOther ServiceType = "other"
)

// Valid reports whether s is one of the known service types.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceTextGen, ServiceImageGen, ServiceOther:
		return true
	}
	return false
}

// UsageSnapshot is a point-in-time view of GPU memory. When Available is
// false no telemetry backend could be reached and the numeric fields are
// meaningless.
type UsageSnapshot struct {
	UsedMB       uint64  `json:"used_mb"`
	TotalMB      uint64  `json:"total_mb"`
	FreeMB       uint64  `json:"free_mb"`
	UsagePercent float64 `json:"usage_percent"`
	Available    bool    `json:"available"`
	// Method names the backend that produced the numbers: "nvml",
	// "nvidia-smi", "disabled" or "unavailable".
	Method string `json:"method"`
}

// GPUProcess describes one process currently holding GPU memory.
type GPUProcess struct {
	PID      int    `json:"pid"`
	Name     string `json:"name"`
	MemoryMB int    `json:"memory_mb"`
}

// SwitchResult is the control plane's answer to a switch request.
type SwitchResult struct {
	Success         bool    `json:"success"`
	Message         string  `json:"message"`
	PreviousService string  `json:"previous_service"`
	CurrentService  string  `json:"current_service"`
	SwitchTime      float64 `json:"switch_time"`
}

// ProcessState is the per-service portion of the control plane status.
type ProcessState struct {
	Running bool `json:"running"`
	PID     int  `json:"pid"`
}

// ProcessStatus is the control plane's view of both managed processes.
type ProcessStatus struct {
	TextGen        ProcessState `json:"textgen"`
	ImageGen       ProcessState `json:"imagegen"`
	CurrentService string       `json:"current_service"`
}
