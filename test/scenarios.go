// Package test holds the reference scenarios: fixed caves with known
// outcomes, run end to end through the engine. cmd/test-runner executes
// them against a build, and scenarios_test.go runs them under go test.
package test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MRamiBalles/sand-dropper/internal/domain/cave"
	"github.com/MRamiBalles/sand-dropper/internal/engine"
	"github.com/MRamiBalles/sand-dropper/internal/events"
	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
	"github.com/MRamiBalles/sand-dropper/internal/platform/metrics"
)

// ReferenceInput is the small two-path cave most scenarios run on.
const ReferenceInput = `498,4 -> 498,6 -> 496,6
503,4 -> 502,4 -> 502,9 -> 494,9
`

// ReferenceGeometry places input coordinates 400..599 on a 200x200 grid with
// the source at input (500,0).
var ReferenceGeometry = cave.BuildOptions{
	Width:  200,
	Height: 200,
	Source: cave.Point{X: 500, Y: 0},
	Offset: cave.Point{X: -400, Y: 0},
}

// Scenario is one cave, one run and the check applied to its outcome.
type Scenario struct {
	Name     string
	Input    string
	Floor    bool
	Cadence  int
	Expected string

	StopAtFirstLost bool
	MaxTicks        int64

	Check func(Outcome) error
}

// Outcome is what a scenario run produced.
type Outcome struct {
	Stats   engine.Stats
	Err     error
	Blocked bool
	Grid    *cave.Grid

	FirstSettle        *cave.Point
	SettledAtFirstLost int // -1 when nothing was lost
	SettleEvents       int
}

// Summary renders the outcome for a result line.
func (o Outcome) Summary() string {
	s := fmt.Sprintf("ticks=%d spawned=%d settled=%d lost=%d blocked=%v",
		o.Stats.Ticks, o.Stats.Spawned, o.Stats.Settled, o.Stats.Lost, o.Blocked)
	if o.Err != nil {
		s += " err=" + o.Err.Error()
	}
	return s
}

// TestResult captures the outcome of each scenario.
type TestResult struct {
	ScenarioName string
	Expected     string
	Actual       string
	Passed       bool
	Reason       string
	Duration     time.Duration
	Outcome      Outcome
}

// Runner executes scenarios and keeps their results.
type Runner struct {
	logger  *logger.Logger
	results []TestResult
}

// NewRunner creates a scenario runner. A nil logger discards output.
func NewRunner(log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{logger: log}
}

// RunAll runs every scenario in order and returns their results.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) []TestResult {
	out := make([]TestResult, 0, len(scenarios))
	for _, sc := range scenarios {
		out = append(out, r.Run(ctx, sc))
	}
	return out
}

// Run executes one scenario and records its result.
func (r *Runner) Run(ctx context.Context, sc Scenario) TestResult {
	start := time.Now()
	result := TestResult{ScenarioName: sc.Name, Expected: sc.Expected}

	out, err := r.execute(ctx, sc)
	result.Duration = time.Since(start)
	result.Outcome = out
	if err != nil {
		result.Actual = "setup failed"
		result.Reason = err.Error()
		r.logger.Errorf("Scenario %s: %v", sc.Name, err)
		r.results = append(r.results, result)
		return result
	}

	result.Actual = out.Summary()
	switch {
	case out.SettleEvents != out.Stats.Settled:
		result.Reason = fmt.Sprintf("event log holds %d settle events for %d settled grains", out.SettleEvents, out.Stats.Settled)
	case sc.Check == nil:
		result.Passed = true
	default:
		if err := sc.Check(out); err != nil {
			result.Reason = err.Error()
		} else {
			result.Passed = true
		}
	}
	if result.Passed {
		result.Reason = "ok"
		r.logger.Infof("Scenario %s passed in %s", sc.Name, result.Duration)
	} else {
		r.logger.Warnf("Scenario %s failed: %s", sc.Name, result.Reason)
	}

	r.results = append(r.results, result)
	return result
}

func (r *Runner) execute(ctx context.Context, sc Scenario) (Outcome, error) {
	out := Outcome{SettledAtFirstLost: -1}

	c, err := cave.Load(strings.NewReader(sc.Input), ReferenceGeometry, sc.Floor)
	if err != nil {
		return out, err
	}
	cadence := sc.Cadence
	if cadence == 0 {
		cadence = engine.DefaultCadence
	}
	sim, err := engine.NewSimulator(c, cadence)
	if err != nil {
		return out, err
	}

	el := events.NewEventLog()
	eng := engine.NewEngine(sim, el, r.logger, engine.Options{
		RunID:    "scenario-" + sc.Name,
		Metrics:  metrics.NewCollector(),
		MaxTicks: sc.MaxTicks,
	})

	settled := 0
	out.Stats, out.Err = eng.RunUntil(ctx, func(rep engine.TickReport) bool {
		settled += len(rep.Settled)
		if out.FirstSettle == nil && len(rep.Settled) > 0 {
			p := rep.Settled[0].Point()
			out.FirstSettle = &p
		}
		if len(rep.Lost) > 0 && out.SettledAtFirstLost < 0 {
			out.SettledAtFirstLost = settled
			return sc.StopAtFirstLost
		}
		return false
	})
	if out.Err != nil && !errors.Is(out.Err, engine.ErrTickLimit) {
		return out, out.Err
	}

	out.Blocked = eng.Snapshot().SourceBlocked
	out.Grid = eng.Grid()
	out.SettleEvents = len(el.ByType(events.EventTypeGrainSettled))
	return out, nil
}

// GetResults returns all results recorded so far.
func (r *Runner) GetResults() []TestResult {
	return r.results
}

// Failed counts failed results.
func Failed(results []TestResult) int {
	n := 0
	for _, res := range results {
		if !res.Passed {
			n++
		}
	}
	return n
}

// ReferenceScenarios returns the scenarios with known answers.
func ReferenceScenarios() []Scenario {
	blockedAt93 := func(o Outcome) error {
		if !o.Blocked {
			return errors.New("source never blocked")
		}
		if o.Stats.Settled != 93 || o.Stats.Lost != 0 {
			return fmt.Errorf("want 93 settled and 0 lost, got %d and %d", o.Stats.Settled, o.Stats.Lost)
		}
		if row := o.Grid.LowestRow(cave.SettledSand); row != 10 {
			return fmt.Errorf("want deepest settled row 10, got %d", row)
		}
		return nil
	}

	return []Scenario{
		{
			Name:            "floorless-first-lost",
			Input:           ReferenceInput,
			Expected:        "24 grains settled when the first grain falls out",
			StopAtFirstLost: true,
			Check: func(o Outcome) error {
				if o.SettledAtFirstLost != 24 {
					return fmt.Errorf("want 24 settled at first loss, got %d", o.SettledAtFirstLost)
				}
				return nil
			},
		},
		{
			Name:     "floor-source-blocked",
			Input:    ReferenceInput,
			Floor:    true,
			Expected: "source blocked after 93 settled, deepest row 10",
			Check:    blockedAt93,
		},
		{
			Name:     "floor-every-tick",
			Input:    ReferenceInput,
			Floor:    true,
			Cadence:  1,
			Expected: "cadence 1 gives the same 93",
			Check:    blockedAt93,
		},
		{
			Name:     "floor-sparse-cadence",
			Input:    ReferenceInput,
			Floor:    true,
			Cadence:  7,
			Expected: "cadence 7 gives the same 93",
			Check:    blockedAt93,
		},
		{
			Name:            "left-before-right",
			Input:           "500,3 -> 500,3\n490,6 -> 510,6\n",
			Expected:        "first grain slides down-left and rests at (99,5)",
			StopAtFirstLost: true,
			MaxTicks:        50,
			Check: func(o Outcome) error {
				want := cave.Point{X: 99, Y: 5}
				if o.FirstSettle == nil || *o.FirstSettle != want {
					return fmt.Errorf("want first settle at %v, got %v", want, o.FirstSettle)
				}
				return nil
			},
		},
		{
			Name:     "floorless-never-blocks",
			Input:    ReferenceInput,
			MaxTicks: 20_000,
			Expected: "tick limit reached with 24 settled and the source open",
			Check: func(o Outcome) error {
				if !errors.Is(o.Err, engine.ErrTickLimit) {
					return fmt.Errorf("want tick limit, got %v", o.Err)
				}
				if o.Blocked {
					return errors.New("floorless cave blocked its source")
				}
				if o.Stats.Settled != 24 || o.Stats.Lost == 0 {
					return fmt.Errorf("want 24 settled and some lost, got %d and %d", o.Stats.Settled, o.Stats.Lost)
				}
				return nil
			},
		},
	}
}
