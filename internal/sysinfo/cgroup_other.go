//go:build !linux

package sysinfo

func CgroupV2() (bool, string) {
	return false, "cgroups are linux only"
}
