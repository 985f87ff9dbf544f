package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/evidence"
	"github.com/paulschiretz/pgl-roundtrip/pkg/filelock"
	"github.com/paulschiretz/pgl-roundtrip/pkg/hints"
	"github.com/paulschiretz/pgl-roundtrip/pkg/hook"
	"github.com/paulschiretz/pgl-roundtrip/pkg/planner"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/preflight"
	"github.com/paulschiretz/pgl-roundtrip/pkg/report"
	"github.com/paulschiretz/pgl-roundtrip/pkg/transfer"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treecompare"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treegen"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// --- ARCHITECTURAL OVERVIEW: One Trial ---
//
// A run is a strictly sequential loop of trials. Each trial moves the source
// tree to the remote side and back into a mirror directory, then compares
// source and mirror:
//
//  1. Pre-trial:   wait for the tool with zero tolerance, killing leftovers.
//  2. Refresh:     regenerate the source per the generation mode.
//  3. Reset:       wipe the mirror (never before its first use) and the remote dir.
//  4. Forward:     source -> user@host:target.
//  5. Backward:    user@host:target -> mirror.
//  6. Verify:      compare source and mirror; the outcome is the trial result.
//  7. Cleanup:     optionally wipe mirror, remote and generated data.
//
// A failed comparison is a result, not an error. Errors end the run: a tool
// that cannot be started, a liveness timeout, a failed wipe or cancellation.

// lockHeartbeat is how often a held run lock is refreshed.
const lockHeartbeat = 30 * time.Second

// Validator checks a run's preconditions before anything is touched.
type Validator interface {
	Run(ctx context.Context, source, target, host, tool string, p *preflight.Plan) error
}

// Generator materializes a random test tree.
type Generator interface {
	Generate(ctx context.Context, root string, p *treegen.Plan) (treegen.Tree, error)
}

// Comparator decides whether two trees are equivalent.
type Comparator interface {
	CompareDetailed(dirA, dirB string) treecompare.Result
}

// Invoker runs one transfer leg and returns once the tool is gone.
type Invoker interface {
	Invoke(ctx context.Context, opts transfer.Options, destSpec, srcSpec string) error
	ProcessName() string
}

// Watcher waits for the tool to leave the local process table.
type Watcher interface {
	WaitForExit(ctx context.Context, name string, maxPolls int) error
}

// Remote runs maintenance commands on the remote host.
type Remote interface {
	WipeDir(ctx context.Context, dir string) error
	KillAll(ctx context.Context, name string) error
}

// HookRunner runs the user's pre- and post-run commands.
type HookRunner interface {
	RunPreRun(ctx context.Context, p *hook.Plan, env hook.Env) error
	RunPostRun(ctx context.Context, p *hook.Plan, env hook.Env) error
}

// Rotator moves the tool's debug logs aside after a run.
type Rotator interface {
	Rotate(ctx context.Context, now time.Time) error
}

// Archiver keeps the trees of a failed trial.
type Archiver interface {
	Save(ctx context.Context, name string, trees ...evidence.Tree) (string, error)
}

// Runner orchestrates round-trip runs.
type Runner struct {
	validator  Validator
	generator  Generator
	comparator Comparator
	invoker    Invoker
	watcher    Watcher
	remote     Remote
	hooks      HookRunner
	rotator    Rotator
	archiver   Archiver

	// out receives one glyph per finished trial.
	out    io.Writer
	mirror string
}

// NewRunner wires the collaborators of a run. rotator and archiver may be nil.
func NewRunner(v Validator, g Generator, c Comparator, i Invoker, w Watcher, r Remote, h HookRunner, rot Rotator, a Archiver) *Runner {
	return &Runner{
		validator:  v,
		generator:  g,
		comparator: c,
		invoker:    i,
		watcher:    w,
		remote:     r,
		hooks:      h,
		rotator:    rot,
		archiver:   a,
		out:        io.Discard,
	}
}

// SetOutput sets the writer that receives the per-trial glyph stream.
func (r *Runner) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	r.out = w
}

// Mirror returns the mirror directory of the last run.
func (r *Runner) Mirror() string {
	return r.mirror
}

// Run executes p.Trips round trips and returns their results in order.
// The results gathered so far are returned alongside any error.
func (r *Runner) Run(ctx context.Context, p *planner.TripPlan) (results []report.TrialResult, retErr error) {
	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Run Preflight Validation
	if err := r.validator.Run(ctx, p.Source, p.Target, p.Host, p.Transfer.Tool, p.Preflight); err != nil {
		return nil, fmt.Errorf("preflight failed: %w", err)
	}

	// Acquire Lock next to the source.
	releaseLock, err := r.acquireSourceLock(ctx, p)
	if err != nil {
		return nil, err
	}
	defer releaseLock()

	mirror, err := FindMirrorLocation(p.Source, p.Target)
	if err != nil {
		return nil, err
	}
	r.mirror = mirror
	if p.DryRun {
		plog.Info("[DRY RUN] Create mirror directory", "path", mirror)
	} else {
		if err := os.Mkdir(mirror, util.UserWritableDirPerms); err != nil {
			return nil, fmt.Errorf("could not create mirror directory: %w", err)
		}
		if p.Cleanup {
			defer func() {
				if err := os.RemoveAll(mirror); err != nil {
					plog.Warn("Could not remove mirror directory", "path", mirror, "error", err)
				}
			}()
		}
	}

	env := r.hookEnv(p, mirror)

	// --- Pre-Run Hooks ---
	if err := r.hooks.RunPreRun(ctx, p.Hooks, env); err != nil && !hints.IsHint(err) {
		errMsg := "pre-run hook failed"
		if errors.Is(err, context.Canceled) {
			errMsg = "pre-run hook canceled"
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}

	// --- Post-Run Hooks and Log Rotation (deferred) ---
	// These run even if a trial fails.
	defer func() {
		env["STATUS"] = runStatus(results, retErr)
		if err := r.hooks.RunPostRun(ctx, p.Hooks, env); err != nil && !hints.IsHint(err) {
			if errors.Is(err, context.Canceled) {
				plog.Info("post-run hooks skipped due to cancellation.")
			} else {
				plog.Warn("post-run hook failed", "error", err)
			}
		}
		r.rotateLogs(ctx)
	}()

	plog.Info("Starting round trips", "source", p.Source, "remote", p.RemoteSpec(), "mirror", mirror, "trips", p.Trips, "generation", p.Generation)

	t := &trial{plan: p, mirror: mirror, mode: p.Generation}
	for t.index = 1; t.index <= p.Trips; t.index++ {
		res, err := r.runTrial(ctx, t)
		if err != nil {
			return results, fmt.Errorf("trial %d: %w", t.index, err)
		}
		if p.DryRun {
			continue
		}
		results = append(results, res)
		io.WriteString(r.out, report.Glyph(res.OK))

		if !res.OK && p.FailFast {
			plog.Warn("Stopping after failed trial", "trial", t.index)
			break
		}
	}

	plog.Info("Round trips completed", "trips", len(results))
	return results, nil
}

// trial carries the state that changes between iterations.
type trial struct {
	plan   *planner.TripPlan
	mirror string
	index  int
	// mode is the generation mode for this and later trials. A "once" run
	// flips to none after its first generation.
	mode planner.GenerationMode
}

func (r *Runner) runTrial(ctx context.Context, t *trial) (report.TrialResult, error) {
	p := t.plan
	res := report.TrialResult{Index: t.index}
	start := time.Now()

	select {
	case <-ctx.Done():
		return res, ctx.Err()
	default:
	}
	plog.Debug("Starting trial", "trial", t.index)

	// 1. Nothing of a previous trial may still be running.
	name := r.invoker.ProcessName()
	if err := r.watcher.WaitForExit(ctx, name, 0); err != nil {
		return res, err
	}
	if !p.LocalOnly {
		if err := r.remote.KillAll(ctx, name); err != nil {
			return res, fmt.Errorf("could not kill remote %s: %w", name, err)
		}
	}

	// 2. Data refresh.
	if t.mode != planner.GenerateNone {
		if err := r.refreshSource(ctx, p); err != nil {
			return res, err
		}
		if t.mode == planner.GenerateOnce {
			t.mode = planner.GenerateNone
		}
	}

	// 3. Mirror reset. The mirror is fresh for the first trial.
	if t.index > 1 {
		if err := r.wipeLocal(p, t.mirror); err != nil {
			return res, err
		}
	}
	if err := r.wipeTarget(ctx, p); err != nil {
		return res, err
	}

	// 4. Forward leg.
	if err := r.invoker.Invoke(ctx, p.Options, p.RemoteSpec(), p.Source); err != nil {
		return res, fmt.Errorf("forward transfer failed: %w", err)
	}
	if err := settle(ctx, p.Settle); err != nil {
		return res, err
	}

	// 5. Backward leg.
	if err := r.invoker.Invoke(ctx, p.Options, t.mirror, p.RemoteSpec()); err != nil {
		return res, fmt.Errorf("backward transfer failed: %w", err)
	}
	if err := settle(ctx, p.Settle); err != nil {
		return res, err
	}

	// 6. Verify.
	if p.DryRun {
		plog.Info("[DRY RUN] Compare trees", "source", p.Source, "mirror", t.mirror)
		return res, nil
	}
	cmp := r.comparator.CompareDetailed(p.Source, t.mirror)
	res.OK = cmp.Equal
	res.Mismatches = cmp.Mismatches
	res.Duration = time.Since(start)
	if res.OK {
		plog.Info("Trial passed", "trial", t.index, "files", cmp.FilesCompared, "duration", res.Duration.Round(time.Millisecond))
	} else {
		plog.Warn("Trial failed", "trial", t.index, "files", cmp.FilesCompared, "mismatches", cmp.Mismatches, "empty", cmp.Empty)
		res.Evidence = r.saveEvidence(ctx, p, t)
	}

	// 7. Post-trial cleanup.
	if p.Cleanup {
		if err := r.cleanupTrial(ctx, t); err != nil {
			return res, err
		}
	}
	return res, nil
}

// refreshSource wipes the source and generates a new tree into it.
func (r *Runner) refreshSource(ctx context.Context, p *planner.TripPlan) error {
	if p.DryRun {
		plog.Info("[DRY RUN] Regenerate source tree", "path", p.Source)
		return nil
	}
	if err := treegen.Wipe(p.Source); err != nil {
		return err
	}
	tree, err := r.generator.Generate(ctx, p.Source, p.Tree)
	if err != nil {
		return fmt.Errorf("could not generate source tree: %w", err)
	}
	plog.Info("Generated source tree", "files", len(tree.Files), "subfolders", len(tree.Subfolders), "size", util.ByteCountIEC(tree.TotalBytes()))
	return nil
}

// wipeTarget empties the remote directory. A local-only run wipes it in place.
func (r *Runner) wipeTarget(ctx context.Context, p *planner.TripPlan) error {
	if !p.LocalOnly {
		if err := r.remote.WipeDir(ctx, p.Target); err != nil {
			return fmt.Errorf("could not wipe remote directory: %w", err)
		}
		return nil
	}
	if isRoot(p.Target) {
		return fmt.Errorf("refusing to wipe %q", p.Target)
	}
	return r.wipeLocal(p, p.Target)
}

func (r *Runner) wipeLocal(p *planner.TripPlan, dir string) error {
	if p.DryRun {
		plog.Info("[DRY RUN] Wipe directory", "path", dir)
		return nil
	}
	plog.Notice("Wipe directory", "path", dir)
	return treegen.Wipe(dir)
}

// cleanupTrial keeps disk usage flat across many trials. Regenerated source
// data goes too; a fixed source tree is never touched.
func (r *Runner) cleanupTrial(ctx context.Context, t *trial) error {
	p := t.plan
	if err := r.wipeLocal(p, t.mirror); err != nil {
		return err
	}
	if err := r.wipeTarget(ctx, p); err != nil {
		return err
	}
	if p.Generation == planner.GenerateEveryTrial {
		if err := r.wipeLocal(p, p.Source); err != nil {
			return err
		}
	}
	return nil
}

// saveEvidence archives source and mirror of a failed trial. Failing to
// keep evidence never fails the run.
func (r *Runner) saveEvidence(ctx context.Context, p *planner.TripPlan, t *trial) string {
	if r.archiver == nil {
		return ""
	}
	path, err := r.archiver.Save(ctx, evidence.FileName(p.RunID, t.index),
		evidence.Tree{Name: "source", Path: p.Source},
		evidence.Tree{Name: "mirror", Path: t.mirror},
	)
	if err != nil {
		if hints.IsHint(err) {
			plog.Info("Evidence not saved", "trial", t.index, "reason", err)
		} else {
			plog.Warn("Could not save evidence", "trial", t.index, "error", err)
		}
		return ""
	}
	return path
}

func (r *Runner) rotateLogs(ctx context.Context) {
	if r.rotator == nil {
		return
	}
	if err := r.rotator.Rotate(ctx, time.Now()); err != nil {
		if hints.IsHint(err) {
			plog.Debug("Log rotation skipped", "reason", err)
			return
		}
		plog.Warn("Log rotation failed", "error", err)
	}
}

// acquireSourceLock takes the run lock next to the source. It returns a
// release function that must be called when the run ends.
func (r *Runner) acquireSourceLock(ctx context.Context, p *planner.TripPlan) (func(), error) {
	if p.DryRun {
		return func() {}, nil
	}
	lockPath := filelock.PathFor(p.Source)
	plog.Debug("Attempting to acquire lock", "path", lockPath)
	lock, err := filelock.Acquire(ctx, lockPath, filelock.Owner{RunID: p.RunID, Source: p.Source}, lockHeartbeat)
	if err != nil {
		var lockErr *filelock.ErrLockActive
		if errors.As(err, &lockErr) {
			return nil, fmt.Errorf("another run is active: %w", lockErr)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return lock.Release, nil
}

func (r *Runner) hookEnv(p *planner.TripPlan, mirror string) hook.Env {
	return hook.Env{
		"RUN_ID": p.RunID,
		"SOURCE": p.Source,
		"MIRROR": mirror,
		"REMOTE": p.RemoteSpec(),
		"TRIPS":  strconv.Itoa(p.Trips),
	}
}

// runStatus is "ok" when every recorded trial passed and nothing went wrong.
func runStatus(results []report.TrialResult, err error) string {
	if err != nil {
		return "error"
	}
	for _, res := range results {
		if !res.OK {
			return "failed"
		}
	}
	return "ok"
}

// FindMirrorLocation returns source with the smallest numeric suffix, starting
// at 1, that names no existing entry. Paths in avoid are skipped as well.
func FindMirrorLocation(source string, avoid ...string) (string, error) {
	base := strings.TrimRight(source, `/\`)
	if base == "" {
		return "", fmt.Errorf("cannot derive a mirror location from %q", source)
	}
	for i := 1; ; i++ {
		candidate := base + strconv.Itoa(i)
		if contains(avoid, candidate) {
			continue
		}
		_, err := os.Lstat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("could not probe mirror location %s: %w", candidate, err)
		}
	}
}

func contains(paths []string, p string) bool {
	for _, q := range paths {
		if filepath.Clean(q) == filepath.Clean(p) {
			return true
		}
	}
	return false
}

func isRoot(dir string) bool {
	clean := filepath.Clean(dir)
	return dir == "" || clean == filepath.VolumeName(clean)+string(filepath.Separator)
}

// settle gives the tool's remote side time to flush after a leg.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
