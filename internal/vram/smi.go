package vram

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"arbiterd/pkg/types"
)

const smiTimeout = 2 * time.Second

// smiQuerier shells out to nvidia-smi. Slower than NVML but works wherever
// the driver ships the CLI, e.g. inside containers without the NVML library.
type smiQuerier struct{}

func newSMIQuerier() (*smiQuerier, error) {
	ctx, cancel := context.WithTimeout(context.Background(), smiTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "nvidia-smi", "--version").Run(); err != nil {
		return nil, fmt.Errorf("nvidia-smi probe: %w", err)
	}
	return &smiQuerier{}, nil
}

func (q *smiQuerier) usage() (uint64, uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), smiTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx,
		"nvidia-smi", "--query-gpu=memory.used,memory.total", "--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("nvidia-smi query: %w", err)
	}
	// First line is GPU 0.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return 0, 0, fmt.Errorf("nvidia-smi: empty output")
	}
	parts := strings.Split(lines[0], ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("nvidia-smi: malformed line %q", lines[0])
	}
	used, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("nvidia-smi: parse used: %w", err)
	}
	total, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("nvidia-smi: parse total: %w", err)
	}
	return used, total, nil
}

func (q *smiQuerier) name() string { return "nvidia-smi" }

// listGPUProcesses returns compute processes holding device memory.
func listGPUProcesses() ([]types.GPUProcess, error) {
	ctx, cancel := context.WithTimeout(context.Background(), smiTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx,
		"nvidia-smi", "--query-compute-apps=pid,process_name,used_memory", "--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi compute-apps: %w", err)
	}
	return parseGPUProcesses(string(out)), nil
}

func parseGPUProcesses(out string) []types.GPUProcess {
	var procs []types.GPUProcess
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		mem, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			continue
		}
		procs = append(procs, types.GPUProcess{
			PID:      pid,
			Name:     strings.TrimSpace(parts[1]),
			MemoryMB: mem,
		})
	}
	return procs
}
