// package pipeline is the decision orchestrator: an explicit stage DAG,
// executed strictly in dependency order, with per-stage status tracking and a
// per-run manifest. The orchestrator never alters business semantics; it is a
// deterministic scheduler over the fixed graph.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/guestlab/nbo/internal/models"
	"github.com/guestlab/nbo/internal/policy"
	"github.com/guestlab/nbo/internal/provenance"
	"github.com/guestlab/nbo/internal/schema"
	"github.com/guestlab/nbo/internal/scorer"
	"github.com/guestlab/nbo/internal/table"
)

// Dependency and configuration errors.
var (
	ErrUnknownStage      = errors.New("unknown stage")
	ErrMissingDependency = errors.New("missing dependency")
	ErrCycle             = errors.New("stage graph has a cycle")
)

// Stats is what a stage reports back on success.
type Stats struct {
	RowsIn  int
	RowsOut int
}

// StageFunc runs one stage against the environment.
type StageFunc func(ctx context.Context, env *Env) (Stats, error)

// Stage declares one node of the DAG: its artifact contract and dependencies.
type Stage struct {
	Name      string
	Inputs    []string
	Outputs   []string
	DependsOn []string
	Run       StageFunc
}

// Env is the per-run execution environment handed to every stage. The policy
// is immutable; the drop log and no-offer counter accumulate across stages of
// the single-threaded run.
type Env struct {
	InputDir      string
	OutputDir     string
	DecisionDate  time.Time
	Policy        policy.Policy
	Scorer        scorer.Client
	ScorerTimeout time.Duration
	Stamp         provenance.Stamp
	Logger        *log.Logger

	drops         []models.RowDrop
	noOfferGuests int
}

// Resolve locates an artifact, preferring the run's output dir over the input
// dir so re-materialized artifacts shadow raw inputs.
func (e *Env) Resolve(name string) (string, error) {
	return table.Resolve(name, e.OutputDir, e.InputDir)
}

// OutputPath names an artifact inside the run's output dir.
func (e *Env) OutputPath(name string) string {
	return filepath.Join(e.OutputDir, name)
}

// RecordDrops appends row-local data errors to the run's drop log.
func (e *Env) RecordDrops(drops ...models.RowDrop) {
	e.drops = append(e.drops, drops...)
}

// SetNoOfferGuests records the run's "no eligible offer" metric.
func (e *Env) SetNoOfferGuests(n int) {
	e.noOfferGuests = n
}

func (e *Env) logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// Pipeline is the validated stage graph.
type Pipeline struct {
	stages []Stage
	byName map[string]Stage
}

// New validates the declared graph: unique names, known dependencies, no
// cycles.
func New(stages ...Stage) (*Pipeline, error) {
	p := &Pipeline{stages: stages, byName: map[string]Stage{}}
	for _, s := range stages {
		if s.Name == "" || s.Run == nil {
			return nil, fmt.Errorf("stage %q: name and run func required", s.Name)
		}
		if _, dup := p.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s.Name)
		}
		p.byName[s.Name] = s
	}
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := p.byName[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on %w %q", s.Name, ErrUnknownStage, dep)
			}
		}
	}
	if _, err := p.executionOrder(); err != nil {
		return nil, err
	}
	return p, nil
}

// StageNames returns every stage name in execution order.
func (p *Pipeline) StageNames() []string {
	order, _ := p.executionOrder()
	return order
}

// ValidateStages rejects requests naming stages the graph does not have.
func (p *Pipeline) ValidateStages(names []string) error {
	for _, n := range names {
		if _, ok := p.byName[n]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStage, n)
		}
	}
	return nil
}

// executionOrder is a stable topological sort: stages are emitted in declared
// order as their dependencies complete, so the order is deterministic even if
// the graph later grows branches.
func (p *Pipeline) executionOrder() ([]string, error) {
	done := map[string]bool{}
	var order []string
	for len(order) < len(p.stages) {
		progressed := false
		for _, s := range p.stages {
			if done[s.Name] {
				continue
			}
			ready := true
			for _, dep := range s.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[s.Name] = true
				order = append(order, s.Name)
				progressed = true
			}
		}
		if !progressed {
			return nil, ErrCycle
		}
	}
	return order, nil
}

// resolveRequested returns the requested stages in execution order; an empty
// request means the full pipeline.
func (p *Pipeline) resolveRequested(requested []string) ([]Stage, error) {
	if err := p.ValidateStages(requested); err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, n := range requested {
		want[n] = true
	}
	all := len(requested) == 0

	order, err := p.executionOrder()
	if err != nil {
		return nil, err
	}
	var out []Stage
	for _, name := range order {
		if all || want[name] {
			out = append(out, p.byName[name])
		}
	}
	return out, nil
}

// checkDependencies verifies, before any stage executes, that every requested
// stage's inputs either already exist on disk or will be produced by an
// earlier requested stage.
func (p *Pipeline) checkDependencies(env *Env, stages []Stage) error {
	produced := map[string]bool{}
	for _, s := range stages {
		for _, in := range s.Inputs {
			if produced[in] {
				continue
			}
			if _, err := env.Resolve(in); err == nil {
				continue
			}
			if opt, ok := optionalInputs[in]; ok && opt {
				continue
			}
			return fmt.Errorf("stage %q: %w: input artifact %q not materialized and not produced by an earlier requested stage", s.Name, ErrMissingDependency, in)
		}
		for _, outName := range s.Outputs {
			produced[outName] = true
		}
	}
	return nil
}

// Report is the outcome of one orchestrated run.
type Report struct {
	Status        string
	Stages        []models.StageResult
	Manifest      models.Manifest
	NoOfferGuests int
}

// Execute runs the requested stages (all, a contiguous subset, or one) against
// the environment. Observer, when non-nil, receives each stage result as it
// reaches terminal status. The manifest and row-drop log are always written,
// even when a stage fails; artifacts from already-succeeded stages are left
// intact for inspection.
func (p *Pipeline) Execute(ctx context.Context, env *Env, desc *schema.Description, requested []string, observer func(models.StageResult)) (Report, error) {
	stages, err := p.resolveRequested(requested)
	if err != nil {
		return Report{}, err
	}
	if err := os.MkdirAll(env.OutputDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := p.checkDependencies(env, stages); err != nil {
		return Report{}, err
	}
	if desc != nil {
		if err := p.preflight(env, desc, stages); err != nil {
			return Report{}, err
		}
	}

	failed := map[string]bool{}
	var results []models.StageResult
	for i, s := range stages {
		res := models.StageResult{Name: s.Name, Position: i}
		if blocked, cause := p.blockedBy(s, failed); blocked {
			res.Status = models.StageStatusSkipped
			res.Error = fmt.Sprintf("dependency %s failed", cause)
			failed[s.Name] = true
			env.logf("stage %s skipped: %s", s.Name, res.Error)
		} else {
			start := time.Now().UTC()
			res.StartedAt = &start
			stats, err := s.Run(ctx, env)
			end := time.Now().UTC()
			res.FinishedAt = &end
			res.RowsIn = stats.RowsIn
			res.RowsOut = stats.RowsOut
			if err != nil {
				res.Status = models.StageStatusFailed
				res.Error = err.Error()
				failed[s.Name] = true
				env.logf("stage %s failed after %s: %v", s.Name, end.Sub(start), err)
			} else {
				res.Status = models.StageStatusSucceeded
				for _, outName := range s.Outputs {
					res.Outputs = append(res.Outputs, env.OutputPath(outName))
				}
				env.logf("stage %s succeeded in %s (%d rows in, %d rows out)", s.Name, end.Sub(start), stats.RowsIn, stats.RowsOut)
			}
		}
		results = append(results, res)
		if observer != nil {
			observer(res)
		}
	}

	if err := writeDropLog(env.OutputPath(ArtifactRowDrops), env.drops); err != nil {
		env.logf("write row-drop log: %v", err)
	}

	status := models.RunStatusCompleted
	for _, r := range results {
		if r.Status != models.StageStatusSucceeded {
			status = models.RunStatusFailed
			break
		}
	}

	manifest := buildManifest(env, status, results)
	if err := writeManifest(env.OutputPath(ArtifactManifest), manifest); err != nil {
		env.logf("write manifest: %v", err)
	}

	return Report{
		Status:        status,
		Stages:        results,
		Manifest:      manifest,
		NoOfferGuests: env.noOfferGuests,
	}, nil
}

// blockedBy reports whether any direct or transitive dependency of s has
// failed or been skipped. failed already contains transitive closure because
// stages are visited in dependency order.
func (p *Pipeline) blockedBy(s Stage, failed map[string]bool) (bool, string) {
	for _, dep := range s.DependsOn {
		if failed[dep] {
			return true, dep
		}
	}
	return false, ""
}

// preflight validates the raw input tables the requested stages consume.
func (p *Pipeline) preflight(env *Env, desc *schema.Description, stages []Stage) error {
	produced := map[string]bool{}
	seen := map[string]bool{}
	var tables []string
	for _, s := range stages {
		for _, in := range s.Inputs {
			if produced[in] || seen[in] {
				continue
			}
			if rawTables[in] {
				seen[in] = true
				tables = append(tables, trimCSV(in))
			}
		}
		for _, outName := range s.Outputs {
			produced[outName] = true
		}
	}
	return desc.Preflight(tables, env.OutputDir, env.InputDir)
}
