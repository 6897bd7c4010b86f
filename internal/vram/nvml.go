package vram

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlQuerier reads memory counters through the NVIDIA management library.
// Device index 0 only: the arbiter manages a single physical card.
type nvmlQuerier struct {
	device nvml.Device
}

func newNVMLQuerier() (*nvmlQuerier, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))
	}
	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		if sret := nvml.Shutdown(); sret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml device 0: %s (shutdown: %s)", nvml.ErrorString(ret), nvml.ErrorString(sret))
		}
		return nil, fmt.Errorf("nvml device 0: %s", nvml.ErrorString(ret))
	}
	return &nvmlQuerier{device: device}, nil
}

func (q *nvmlQuerier) usage() (uint64, uint64, error) {
	info, ret := q.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, 0, fmt.Errorf("nvml memory info: %s", nvml.ErrorString(ret))
	}
	return info.Used / (1024 * 1024), info.Total / (1024 * 1024), nil
}

func (q *nvmlQuerier) name() string { return "nvml" }
