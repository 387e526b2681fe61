package gate

import (
	"fmt"
	"strconv"

	"github.com/shirou/gopsutil/v4/mem"
)

// CapacityAuto sizes the gate from system memory.
const CapacityAuto = "auto"

const (
	reservedBytes   = int64(2 * 1024 * 1024 * 1024)
	perSessionBytes = int64(500 * 1024 * 1024)
	fallbackRAM     = int64(8 * 1024 * 1024 * 1024)
	minAutoCapacity = 2
	maxAutoCapacity = 50
)

// ResolveCapacity turns a "auto" or integer setting into a slot count.
func ResolveCapacity(setting string) (int, error) {
	if setting == CapacityAuto {
		return autoCapacity(), nil
	}

	size, err := strconv.Atoi(setting)
	if err != nil {
		return 0, fmt.Errorf("capacity must be 'auto' or integer, got %q", setting)
	}
	if size <= 0 {
		return 0, fmt.Errorf("capacity must be positive, got %d", size)
	}
	return size, nil
}

// autoCapacity: (total RAM - 2GB) / 500MB per browser tab, clamped to [2, 50].
func autoCapacity() int {
	total := fallbackRAM
	if v, err := mem.VirtualMemory(); err == nil {
		total = int64(v.Total)
	}

	size := int((total - reservedBytes) / perSessionBytes)
	if size < minAutoCapacity {
		size = minAutoCapacity
	}
	if size > maxAutoCapacity {
		size = maxAutoCapacity
	}
	return size
}
