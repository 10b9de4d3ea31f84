// Package sysinfo answers the host questions a stress run needs before it
// starts: how many cores to load, how much memory is safe to take and what
// kind of machine the numbers came from.
package sysinfo

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Detector reports logical core counts. The zero value queries the host.
type Detector struct {
	counts func(logical bool) (int, error)
}

// Cores returns the logical core count, falling back to the Go runtime's
// view when the host cannot be queried. It never panics; it may return 0
// only when a custom counter says so.
func (d Detector) Cores() int {
	counts := d.counts
	if counts == nil {
		counts = cpu.Counts
	}
	n, err := counts(true)
	if err != nil || n < 0 {
		return runtime.NumCPU()
	}
	return n
}

// FixedCores is a detector that always reports n cores.
type FixedCores int

func (f FixedCores) Cores() int { return int(f) }

// Host describes the machine a run was taken on.
type Host struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	Kernel          string `json:"kernel,omitempty"`
	Arch            string `json:"arch"`
	GoVersion       string `json:"go_version"`
	CPUModel        string `json:"cpu_model"`
	LogicalCPUs     int    `json:"logical_cpus"`
	MemoryTotal     uint64 `json:"memory_total"`
	MemoryAvail     uint64 `json:"memory_available"`
	CgroupV2        bool   `json:"cgroup_v2"`
	CgroupMemoryMax uint64 `json:"cgroup_memory_max,omitempty"`
}

// CollectHost gathers host facts. Lookups that fail leave their field empty.
func CollectHost() Host {
	h := Host{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		CPUModel:    "unknown",
		LogicalCPUs: Detector{}.Cores(),
	}
	h.Hostname, _ = os.Hostname()

	if info, err := host.Info(); err == nil {
		h.Platform = info.Platform
		h.Kernel = info.KernelVersion
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		h.CPUModel = infos[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemoryTotal = vm.Total
		h.MemoryAvail = vm.Available
	}
	h.CgroupV2, _ = CgroupV2()
	if limit, ok := CgroupMemoryLimit(DefaultCgroupRoot); ok {
		h.CgroupMemoryMax = limit
	}
	return h
}
