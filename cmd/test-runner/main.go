// Package main runs the reference scenarios against the simulation and exits
// non-zero when any of them fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
	"github.com/MRamiBalles/sand-dropper/test"
)

var (
	verbose = flag.Bool("v", false, "print the final cave of every scenario")
	only    = flag.String("run", "", "run only scenarios whose name contains this")
	timeout = flag.Duration("timeout", time.Minute, "overall time limit")
)

func main() {
	flag.Parse()

	fmt.Println("SAND DROPPER - REFERENCE SCENARIOS")
	fmt.Println(strings.Repeat("=", 60))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var scenarios []test.Scenario
	for _, sc := range test.ReferenceScenarios() {
		if *only == "" || strings.Contains(sc.Name, *only) {
			scenarios = append(scenarios, sc)
		}
	}
	if len(scenarios) == 0 {
		fmt.Fprintf(os.Stderr, "no scenario matches %q\n", *only)
		os.Exit(2)
	}

	log := logger.Discard()
	if *verbose {
		log = logger.NewLogger()
	}
	runner := test.NewRunner(log)
	results := runner.RunAll(ctx, scenarios)

	for _, r := range results {
		mark := "PASS"
		if !r.Passed {
			mark = "FAIL"
		}
		fmt.Printf("\n[%s] %s (%s)\n", mark, r.ScenarioName, r.Duration.Round(time.Microsecond))
		fmt.Printf("   expected: %s\n", r.Expected)
		fmt.Printf("   actual:   %s\n", r.Actual)
		if !r.Passed {
			fmt.Printf("   reason:   %s\n", r.Reason)
		}
		if *verbose && r.Outcome.Grid != nil {
			fmt.Print(cave.RenderCropped(r.Outcome.Grid, nil, 1))
		}
	}

	failed := test.Failed(results)
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Printf("   passed: %d\n", len(results)-failed)
	fmt.Printf("   failed: %d\n", failed)

	if failed > 0 {
		os.Exit(1)
	}
}
