package hw

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// SysfsTemp reads the SoC temperature from the kernel thermal zone.
type SysfsTemp struct {
	path string
}

func NewSysfsTemp() *SysfsTemp {
	return &SysfsTemp{path: thermalZonePath}
}

// NewSysfsTempAt exists for tests that point at a fixture file.
func NewSysfsTempAt(path string) *SysfsTemp {
	return &SysfsTemp{path: path}
}

func (t *SysfsTemp) ReadCelsius() (float64, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return 0, fmt.Errorf("read thermal zone: %w", err)
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse thermal zone value: %w", err)
	}
	return milli / 1000.0, nil
}
