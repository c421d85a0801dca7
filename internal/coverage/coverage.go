// Package coverage measures how much of an app's control flow a set of
// recorded execution traces exercised.
package coverage

import (
	"sort"
	"sync"

	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/pkg/schema"
)

// Collector accumulates traces by action name. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	traces map[string][]*schema.Trace
	counts map[string]int
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		traces: make(map[string][]*schema.Trace),
		counts: make(map[string]int),
	}
}

// Record adds one execution of action. A nil trace still counts the execution.
func (c *Collector) Record(action string, trace *schema.Trace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[action]++
	if trace != nil {
		c.traces[action] = append(c.traces[action], trace)
	}
}

// Reset drops every recorded execution.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces = make(map[string][]*schema.Trace)
	c.counts = make(map[string]int)
}

// Report computes coverage of actions against the recorded traces.
// pathLimit bounds path enumeration per action (0 = flowgraph default).
func (c *Collector) Report(actions []*engine.CompiledAction, pathLimit int) *schema.CoverageReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return compute(actions, c.traces, c.counts, pathLimit)
}

// Compute builds a report from an explicit trace set.
func Compute(actions []*engine.CompiledAction, traces map[string][]*schema.Trace, pathLimit int) *schema.CoverageReport {
	counts := make(map[string]int, len(traces))
	for name, ts := range traces {
		counts[name] = len(ts)
	}
	return compute(actions, traces, counts, pathLimit)
}

func compute(actions []*engine.CompiledAction, traces map[string][]*schema.Trace, counts map[string]int, pathLimit int) *schema.CoverageReport {
	report := &schema.CoverageReport{
		UncoveredActions:  []string{},
		UncoveredBranches: []schema.UncoveredBranch{},
	}

	var executed, armsTotal, armsTaken, pathsTotal, pathsCovered int
	for _, a := range actions {
		name := a.Name()
		ac := schema.ActionCoverage{Action: name, Executions: counts[name]}
		if ac.Executions > 0 {
			executed++
		} else {
			report.UncoveredActions = append(report.UncoveredActions, name)
		}

		taken := make(map[schema.BranchOutcome]bool)
		walked := make(map[string]bool)
		for _, tr := range traces[name] {
			for _, b := range tr.Branches {
				taken[b] = true
			}
			walked[flowgraph.Path(tr.Path).Key()] = true
		}

		for _, arm := range a.Graph().BranchArms() {
			ac.BranchesTotal++
			if taken[schema.BranchOutcome{Block: arm.Block, Outcome: string(arm.Outcome)}] {
				ac.BranchesTaken++
				continue
			}
			report.UncoveredBranches = append(report.UncoveredBranches, schema.UncoveredBranch{
				Action:     name,
				BlockIndex: arm.Block,
				BranchType: string(arm.Outcome),
				Condition:  arm.Condition,
			})
		}

		paths, _ := flowgraph.EnumeratePaths(a.Graph(), pathLimit)
		ac.PathsTotal = len(paths)
		for _, p := range paths {
			if walked[p.Key()] {
				ac.PathsCovered++
			}
		}

		armsTotal += ac.BranchesTotal
		armsTaken += ac.BranchesTaken
		pathsTotal += ac.PathsTotal
		pathsCovered += ac.PathsCovered
		report.Actions = append(report.Actions, ac)
	}

	sort.Strings(report.UncoveredActions)
	report.ActionCoverage = ratio(executed, len(actions))
	report.BranchCoverage = ratio(armsTaken, armsTotal)
	report.PathCoverage = ratio(pathsCovered, pathsTotal)
	return report
}

// ratio is n/d; an empty denominator means there was nothing to cover.
func ratio(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}
