// voicewave-bench ranks benchmark rows offline. It reads the same rows
// JSON the backend publishes on the bus and prints the model the app
// would recommend, so gate changes can be tried without a running core.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/voicewave/voicewave-core/internal/benchmark"
)

var version = "0.1.0-dev"

func main() {
	var (
		rowsPath   string
		maxLatency int64
		maxRTF     float64
	)
	recommendCmd := flag.NewFlagSet("recommend", flag.ExitOnError)
	recommendCmd.StringVar(&rowsPath, "rows", "rows.json", "Path to benchmark rows JSON")
	recommendCmd.Int64Var(&maxLatency, "max-p95-ms", benchmark.DefaultMaxP95LatencyMS, "p95 latency gate in milliseconds")
	recommendCmd.Float64Var(&maxRTF, "max-rtf", benchmark.DefaultMaxRTF, "real-time factor gate")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'recommend' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "recommend":
		recommendCmd.Parse(os.Args[2:])
		if err := runRecommend(rowsPath, benchmark.Constraints{
			MaxP95LatencyMS: maxLatency,
			MaxRTF:          maxRTF,
		}); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runRecommend(path string, constraints benchmark.Constraints) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var rows []benchmark.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("parse rows: %w", err)
	}

	rec, ok := benchmark.Recommend(rows, constraints)
	if !ok {
		return fmt.Errorf("no rows to rank in %s", path)
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
