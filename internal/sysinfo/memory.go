package sysinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultCgroupRoot is where the unified hierarchy is mounted.
const DefaultCgroupRoot = "/sys/fs/cgroup"

// Memory reports how many bytes can still be allocated before the host or
// the enclosing cgroup runs out.
type Memory struct {
	CgroupRoot string

	virtual func() (*mem.VirtualMemoryStat, error)
}

// NewMemory returns a probe for the host and the default cgroup root.
func NewMemory() *Memory {
	return &Memory{CgroupRoot: DefaultCgroupRoot, virtual: mem.VirtualMemory}
}

// Available is the smaller of the host's available memory and the cgroup's
// remaining headroom (memory.max minus memory.current) when a limit is set.
func (m *Memory) Available() (uint64, error) {
	vm, err := m.virtual()
	if err != nil {
		return 0, fmt.Errorf("reading host memory: %w", err)
	}
	avail := vm.Available

	if limit, ok := CgroupMemoryLimit(m.CgroupRoot); ok {
		used, _ := readCgroupValue(filepath.Join(m.CgroupRoot, "memory.current"))
		var headroom uint64
		if limit > used {
			headroom = limit - used
		}
		if headroom < avail {
			avail = headroom
		}
	}
	return avail, nil
}

// CgroupMemoryLimit returns memory.max under root. ok is false when the
// file is missing or reads "max".
func CgroupMemoryLimit(root string) (uint64, bool) {
	v, err := readCgroupValue(filepath.Join(root, "memory.max"))
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

// readCgroupValue parses a single-value cgroup file. "max" yields 0.
func readCgroupValue(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "max" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
