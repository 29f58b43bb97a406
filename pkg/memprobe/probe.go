// Package memprobe reads system memory telemetry for the capacity
// optimizer. Snapshots are taken fresh on every call; nothing is cached.
package memprobe

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/modelpool/modelpool/pkg/types"
)

const meminfoPath = "/proc/meminfo"

// Probe reads system memory from /proc/meminfo where available and falls
// back to Go runtime statistics elsewhere.
type Probe struct {
	meminfo string
}

// New creates a system memory probe.
func New() *Probe {
	return &Probe{meminfo: meminfoPath}
}

// ReadSystemMemory returns a fresh memory snapshot in megabytes.
func (p *Probe) ReadSystemMemory() (types.SystemMemory, error) {
	if mem, err := p.readMeminfo(); err == nil {
		return mem, nil
	}
	return p.readRuntime(), nil
}

func (p *Probe) readMeminfo() (types.SystemMemory, error) {
	f, err := os.Open(p.meminfo)
	if err != nil {
		return types.SystemMemory{}, err
	}
	defer f.Close()

	var totalKb, availableKb uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKb = value
		case "MemAvailable:":
			availableKb = value
		}
	}
	if err := scanner.Err(); err != nil {
		return types.SystemMemory{}, err
	}

	total := totalKb / 1024
	available := availableKb / 1024
	return types.SystemMemory{
		TotalMb:     total,
		AvailableMb: available,
		UsedMb:      total - available,
	}, nil
}

// readRuntime approximates system memory from the Go runtime when
// /proc/meminfo is unavailable. Figures are estimates only.
func (p *Probe) readRuntime() types.SystemMemory {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	sysMb := stats.Sys / 1024 / 1024
	usedMb := stats.HeapInuse / 1024 / 1024
	return types.SystemMemory{
		TotalMb:     sysMb,
		AvailableMb: sysMb - usedMb,
		UsedMb:      usedMb,
	}
}

// Static is a probe returning a fixed snapshot, for tests and for
// deployments that pin the memory budget by configuration.
type Static struct {
	Mem types.SystemMemory
}

// ReadSystemMemory returns the fixed snapshot.
func (s *Static) ReadSystemMemory() (types.SystemMemory, error) {
	return s.Mem, nil
}
