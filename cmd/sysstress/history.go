package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/dustin/go-humanize"

	"github.com/p-arndt/sysstress/internal/store"
)

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", "", "path to sysstress.yaml")
	dbPath := fs.String("db", "", "history database; overrides history_db")
	limit := fs.Int("limit", 10, "number of runs to list (0 = all)")
	jsonOut := fs.Bool("json", false, "print JSON")
	id := fs.String("id", "", "show the full report of one run")
	del := fs.String("delete", "", "delete one run")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path := *dbPath
	if path == "" {
		path = loadConfig(*cfgPath).HistoryDB
	}
	if path == "" {
		fail("no history database configured (set history_db or SYSSTRESS_HISTORY_DB)")
	}

	st, err := store.New(path)
	if err != nil {
		fail("open history: %v", err)
	}
	defer st.Close()

	switch {
	case *del != "":
		if err := st.DeleteRun(*del); err != nil {
			return reportLookupError(*del, err)
		}
		fmt.Printf("Deleted run %s\n", *del)
		return 0
	case *id != "":
		run, err := st.GetRun(*id)
		if err != nil {
			return reportLookupError(*id, err)
		}
		return printJSON(run.Report)
	}

	runs, err := st.ListRuns(*limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *jsonOut {
		if runs == nil {
			runs = []*store.Run{}
		}
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tELAPSED\tCORES\tHASH OPS\tPEAK\tBANDWIDTH\tNOTES")
	for _, r := range runs {
		notes := ""
		if r.Interrupted {
			notes = "interrupted"
		}
		if r.AllocFailures > 0 {
			notes += fmt.Sprintf(" alloc-failures=%d", r.AllocFailures)
		}
		fmt.Fprintf(w, "%s\t%s\t%.1fs\t%d\t%s\t%s\t%.0f MB/s\t%s\n",
			shortID(r.ID), humanize.Time(r.StartedAt), r.ElapsedSeconds, r.CoreCount,
			humanize.Comma(int64(r.HashOps)), units.BytesSize(float64(r.PeakBytes)), r.BandwidthMiBps, notes)
	}
	w.Flush()
	return 0
}

func reportLookupError(id string, err error) int {
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "run %s not found\n", id)
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	return 1
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
