//go:build linux

package sysinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CgroupV2 reports whether the unified hierarchy is mounted at the default root.
func CgroupV2() (bool, string) {
	var stat unix.Statfs_t
	if err := unix.Statfs(DefaultCgroupRoot, &stat); err != nil {
		return false, fmt.Sprintf("statfs failed: %v", err)
	}
	if stat.Type != unix.CGROUP2_SUPER_MAGIC {
		return false, fmt.Sprintf("unexpected filesystem type: 0x%x", stat.Type)
	}
	return true, DefaultCgroupRoot + " is cgroup2"
}
