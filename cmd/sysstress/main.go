package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/p-arndt/sysstress/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `Usage:
  sysstress [run] [--config <path>] [--yes] [--json] [--elastic]   Run a stress test
  sysstress doctor [--config <path>]                               Check the host
  sysstress history [--config <path>] [--db <path>] [--limit n] [--json] [--id <run>] [--delete <run>]
  sysstress version

Configuration is read from the YAML file given with --config and from
SYSSTRESS_* environment variables.
`

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "run":
		code = runRun(args)
	case "doctor":
		code = runDoctor(args)
	case "history":
		code = runHistory(args)
	case "version":
		fmt.Println("sysstress", version)
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	os.Exit(code)
}

// newLogger writes to stderr so it never interleaves with the live view on
// stdout.
func newLogger(cfg *config.Config) *slog.Logger {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fail("load config: %v", err)
	}
	return cfg
}

func fail(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "sysstress: "+msg+"\n", args...)
	os.Exit(1)
}
