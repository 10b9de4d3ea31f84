package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/p-arndt/sysstress/internal/display"
	"github.com/p-arndt/sysstress/internal/store"
	"github.com/p-arndt/sysstress/internal/sysinfo"
)

type doctorCheck struct {
	Name    string
	Status  string
	Details string
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", "", "path to sysstress.yaml")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	checks := make([]doctorCheck, 0, 8)
	failures := 0

	cfg := loadConfig(*cfgPath)
	if err := cfg.Validate(); err != nil {
		checks = append(checks, doctorCheck{Name: "Configuration", Status: "FAIL", Details: err.Error()})
		failures++
	} else {
		checks = append(checks, doctorCheck{Name: "Configuration", Status: "OK", Details: fmt.Sprintf("%s run", cfg.Duration)})
	}

	host := sysinfo.CollectHost()
	cores := coreDetector(cfg).Cores()
	if cores > 0 {
		checks = append(checks, doctorCheck{Name: "CPU cores", Status: "OK", Details: fmt.Sprintf("%d (%s)", cores, host.CPUModel)})
	} else {
		checks = append(checks, doctorCheck{Name: "CPU cores", Status: "FAIL", Details: "no cores detected"})
		failures++
	}

	need := cfg.Ceiling() + uint64(cfg.Bandwidth.BufferSize) + uint64(cfg.Memory.Floor)
	if avail, err := sysinfo.NewMemory().Available(); err != nil {
		checks = append(checks, doctorCheck{Name: "Memory", Status: "WARN", Details: err.Error()})
	} else if avail < need {
		checks = append(checks, doctorCheck{Name: "Memory", Status: "WARN",
			Details: fmt.Sprintf("%s available, run wants %s; allocation will stop early", humanize.IBytes(avail), humanize.IBytes(need))})
	} else {
		checks = append(checks, doctorCheck{Name: "Memory", Status: "OK",
			Details: fmt.Sprintf("%s available of %s", humanize.IBytes(avail), humanize.IBytes(host.MemoryTotal))})
	}

	if ok, details := sysinfo.CgroupV2(); ok {
		checks = append(checks, doctorCheck{Name: "cgroups v2", Status: "OK", Details: details})
	} else {
		checks = append(checks, doctorCheck{Name: "cgroups v2", Status: "WARN", Details: details})
	}

	if limit, ok := sysinfo.CgroupMemoryLimit(sysinfo.DefaultCgroupRoot); ok {
		checks = append(checks, doctorCheck{Name: "cgroup memory", Status: "OK", Details: "memory.max " + humanize.IBytes(limit)})
	} else {
		checks = append(checks, doctorCheck{Name: "cgroup memory", Status: "OK", Details: "no limit"})
	}

	if c := display.SetupConsole(os.Stdout); c.IsTerminal {
		checks = append(checks, doctorCheck{Name: "Terminal", Status: "OK", Details: fmt.Sprintf("%d columns", c.Width)})
	} else {
		checks = append(checks, doctorCheck{Name: "Terminal", Status: "WARN", Details: "stdout is not a terminal; use --json"})
	}

	if cfg.HistoryDB != "" {
		if st, err := store.New(cfg.HistoryDB); err != nil {
			checks = append(checks, doctorCheck{Name: "History", Status: "FAIL", Details: err.Error()})
			failures++
		} else {
			st.Close()
			checks = append(checks, doctorCheck{Name: "History", Status: "OK", Details: cfg.HistoryDB})
		}
	}

	fmt.Printf("sysstress doctor (%s/%s, %s)\n", host.OS, host.Arch, host.GoVersion)
	for _, check := range checks {
		fmt.Printf("[%s] %-16s %s\n", check.Status, check.Name, check.Details)
	}

	if failures > 0 {
		fmt.Printf("\nDoctor found %d blocking issue(s).\n", failures)
		return 1
	}

	fmt.Println("\nDoctor checks passed.")
	return 0
}
