package test

import (
	"context"
	"strings"
	"testing"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/google/go-cmp/cmp"
)

func TestReferenceScenarios(t *testing.T) {
	r := NewRunner(nil)
	for _, sc := range ReferenceScenarios() {
		t.Run(sc.Name, func(t *testing.T) {
			res := r.Run(context.Background(), sc)
			if !res.Passed {
				t.Errorf("%s: %s (%s)", sc.Name, res.Reason, res.Actual)
			}
		})
	}
	if got, want := len(r.GetResults()), len(ReferenceScenarios()); got != want {
		t.Errorf("Expected %d recorded results, got %d", want, got)
	}
}

func TestCadenceLeavesSameCave(t *testing.T) {
	r := NewRunner(nil)
	var rows [][]string
	for _, cadence := range []int{1, 3, 7} {
		res := r.Run(context.Background(), Scenario{Name: "floor", Input: ReferenceInput, Floor: true, Cadence: cadence})
		if !res.Passed {
			t.Fatalf("cadence %d: %s", cadence, res.Reason)
		}
		rows = append(rows, cave.Lines(cave.Render(res.Outcome.Grid, nil)))
	}
	for i := 1; i < len(rows); i++ {
		if diff := cmp.Diff(rows[0], rows[i]); diff != "" {
			t.Errorf("final cave differs between cadences (-first +other):\n%s", diff)
		}
	}
}

func TestRunnerReportsSetupFailure(t *testing.T) {
	r := NewRunner(nil)
	res := r.Run(context.Background(), Scenario{Name: "diagonal", Input: "1,1 -> 3,3"})
	if res.Passed {
		t.Fatal("Expected a failed result for unparsable input")
	}
	if res.Actual != "setup failed" || !strings.Contains(res.Reason, "line 1") {
		t.Errorf("Expected setup failure naming the line, got %q / %q", res.Actual, res.Reason)
	}
	if Failed(r.GetResults()) != 1 {
		t.Errorf("Expected one failed result")
	}
}

func TestRunnerReportsFailedCheck(t *testing.T) {
	r := NewRunner(nil)
	sc := ReferenceScenarios()[1]
	sc.Floor = false
	sc.MaxTicks = 2000
	res := r.Run(context.Background(), sc)
	if res.Passed {
		t.Fatal("Expected a floorless run to fail the blocked check")
	}
	if res.Reason != "source never blocked" {
		t.Errorf("Expected reason 'source never blocked', got %q", res.Reason)
	}
}
