// Command pakinfo lists the records of scan containers.
//
// Usage:
//
//	pakinfo [flags] file.pak ...
//
// Examples:
//
//	pakinfo scan_0001.pak
//	pakinfo -roles *.pak
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/cwbudde/algo-doas/doas/pak"
)

func main() {
	roles := flag.Bool("roles", false, "list only sky, dark, offset and dark-current records")
	verbose := flag.Bool("v", false, "log reader diagnostics")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pakinfo [flags] file.pak ...\n\n")
		fmt.Fprintf(os.Stderr, "Lists the records of scan containers.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	failed := false
	for _, path := range flag.Args() {
		r, err := pak.Open(path, pak.WithLogger(logger), pak.WithBufferLimit(0))
		if err != nil {
			pterm.Error.Printf("%s: %v\n", path, err)
			failed = true
			continue
		}
		pterm.DefaultSection.Println(r.Name())
		pterm.Info.Printf("%d records, %d samples, interlace %d, start channel %d, device %s\n",
			r.Count(), r.SpectrumLength(), r.InterlaceStep(), r.StartChannel(), r.Device())
		_ = pterm.DefaultTable.WithHasHeader().WithData(table(r, *roles)).Render()
		if !r.StartTime().IsZero() {
			pterm.Info.Printf("recorded %s to %s\n", r.StartTime().Format("2006-01-02 15:04:05"), r.StopTime().Format("15:04:05"))
		}
		r.Close()
	}
	if failed {
		os.Exit(1)
	}
}

// table builds one row per record with its decode status.
func table(r *pak.Reader, rolesOnly bool) [][]string {
	data := [][]string{{"Pos", "Name", "Role", "Samples", "Co-adds", "Exposure", "Max", "Status"}}
	for i := range r.Count() {
		role := r.Role(i)
		if rolesOnly && role == pak.RoleMeasurement {
			continue
		}
		row := []string{strconv.Itoa(i), r.RecordName(i), role.String(), "", "", "", "", "ok"}
		s, err := r.At(i)
		switch {
		case err == nil:
			row[3] = strconv.Itoa(s.Len())
			row[4] = strconv.Itoa(s.Info.NumSpectra)
			row[5] = fmt.Sprintf("%d ms", s.Info.ExposureTime)
			row[6] = strconv.FormatFloat(s.MaxAll(), 'f', 0, 64)
		case errors.Is(err, pak.ErrChecksumMismatch):
			row[7] = "checksum"
		case errors.Is(err, pak.ErrDecompress):
			row[7] = "compression"
		default:
			row[7] = "corrupt"
		}
		data = append(data, row)
	}
	return data
}
