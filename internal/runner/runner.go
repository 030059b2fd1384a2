package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aqasim81/dbrunner/internal/config"
	"github.com/aqasim81/dbrunner/internal/metrics"
	"github.com/aqasim81/dbrunner/internal/script"
	"github.com/aqasim81/dbrunner/internal/tracker"
)

// Progress status constants reported via ProgressEvent.
const (
	ProgressStarting  = "starting"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
	ProgressSkipped   = "skipped"
	ProgressPlanned   = "planned"
)

// ProgressEvent is emitted for each script the runner looks at.
type ProgressEvent struct {
	Script   *script.Script
	Status   string
	Duration time.Duration
	Error    error
}

// Runner applies pending migration and seed scripts exactly once, in
// lexical order, while holding the store's advisory lock.
type Runner struct {
	store      Store
	cfg        config.Config
	source     script.Source
	logger     *zap.Logger
	metrics    *metrics.Collector
	preflight  Preflight
	dryRun     bool
	onProgress func(ProgressEvent)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithSource overrides where scripts are read from. The default reads the
// configured migrations and seeds directories.
func WithSource(s script.Source) Option {
	return func(r *Runner) { r.source = s }
}

// WithMetrics records run, script and lock-wait metrics into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = c }
}

// WithPreflight runs p over pending migrations before they are applied.
func WithPreflight(p Preflight) Option {
	return func(r *Runner) { r.preflight = p }
}

// WithDryRun reports pending scripts as planned without executing or
// recording anything.
func WithDryRun(b bool) Option {
	return func(r *Runner) { r.dryRun = b }
}

// WithProgressCallback sets a function called for each script processed.
func WithProgressCallback(fn func(ProgressEvent)) Option {
	return func(r *Runner) { r.onProgress = fn }
}

// New validates cfg and returns a Runner bound to store. The configuration
// is copied; later changes to cfg have no effect.
func New(store Store, cfg *config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		store:  store,
		cfg:    *cfg,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.source == nil {
		r.source = script.Dirs{Migrations: r.cfg.MigrationsDir, Seeds: r.cfg.SeedsDir}
	}

	return r, nil
}

// Run performs one migration run. The returned Result is never nil; the
// error is the same as Result.Err. Callers should treat a non-nil error as
// fatal to their own startup.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.New(), State: StateIdle}

	if !r.cfg.Enabled {
		r.logger.Info("Migration runner disabled, nothing to do")
		res.State = StateSucceeded
		res.Succeeded = true

		return res, nil
	}

	log := r.logger.With(zap.String("run_id", res.RunID.String()))
	log.Info("Migration run starting",
		zap.String("migrations_dir", r.cfg.MigrationsDir),
		zap.String("environment", r.cfg.Environment),
		zap.String("transaction_mode", r.cfg.TransactionMode),
		zap.Bool("dry_run", r.dryRun),
	)

	r.transition(log, res, StateEnsuringStore)

	if err := r.store.Ensure(ctx); err != nil {
		return r.finish(log, res, start, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}

	r.transition(log, res, StateAcquiringLock)

	lock, err := r.acquireLock(ctx, log)
	if err != nil {
		return r.finish(log, res, start, err)
	}

	runErr := func() error {
		defer func() {
			r.transition(log, res, StateReleasingLock)
			res.ReleaseErr = r.release(ctx, log, lock)
		}()

		return r.runLocked(ctx, log, res)
	}()

	return r.finish(log, res, start, runErr)
}

// runLocked is everything that happens while the lock is held: discovery,
// diffing and application for both phases.
func (r *Runner) runLocked(ctx context.Context, log *zap.Logger, res *Result) error {
	execCtx, cancel := context.WithTimeout(ctx, r.cfg.ExecutionTimeout)
	defer cancel()

	if !r.dryRun {
		if err := r.store.EnsureLedger(execCtx); err != nil {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}

	scope := &txScope{store: r.store, perRun: r.cfg.TransactionMode == config.TxPerRun}

	err := r.runPhases(execCtx, log, res, scope)
	if err == nil {
		err = scope.commit(execCtx)
	}

	if err != nil {
		scope.abort(execCtx)

		if scope.perRun && res.Count(StatusApplied) > 0 {
			res.markRolledBack()
			log.Warn("Run transaction rolled back", zap.Int("rolled_back", res.Count(StatusRolledBack)))
		}

		return err
	}

	return nil
}

func (r *Runner) runPhases(ctx context.Context, log *zap.Logger, res *Result, tx *txScope) error {
	r.transition(log, res, StateApplyingMigrations)

	if err := r.applyPhase(ctx, log, res, tx, script.Scope{Phase: script.PhaseMigration}); err != nil {
		return err
	}

	if r.cfg.Environment == "" {
		log.Info("No environment configured, skipping seed scripts")

		return nil
	}

	r.transition(log, res, StateApplyingSeeds)

	return r.applyPhase(ctx, log, res, tx, script.Scope{Phase: script.PhaseSeed, Environment: r.cfg.Environment})
}

// applyPhase runs discover, diff, apply and record for one ledger scope.
func (r *Runner) applyPhase(ctx context.Context, log *zap.Logger, res *Result, tx *txScope, scope script.Scope) error {
	discovered, err := r.source.Scripts(scope)
	if err != nil {
		return fmt.Errorf("discovering %s scripts: %w", scope, err)
	}

	scripts := script.Sort(discovered)
	if err := script.CheckUnique(scripts); err != nil {
		return err
	}

	applied, err := r.applied(ctx, scope)
	if err != nil {
		return err
	}

	pending, err := r.pending(log, res, scripts, applied)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		log.Info("No pending scripts", zap.Stringer("scope", scope), zap.Int("discovered", len(scripts)))

		return nil
	}

	log.Info("Applying pending scripts",
		zap.Stringer("scope", scope),
		zap.Int("pending", len(pending)),
		zap.Int("already_applied", len(scripts)-len(pending)),
	)

	if r.preflight != nil && scope.Phase == script.PhaseMigration {
		if err := r.preflight.Check(ctx, pending); err != nil {
			return fmt.Errorf("preflight analysis: %w", err)
		}
	}

	for i := range pending {
		if r.dryRun {
			res.add(Outcome{ScriptID: pending[i].ID, Scope: scope, Status: StatusPlanned})
			r.fireProgress(ProgressEvent{Script: &pending[i], Status: ProgressPlanned})

			continue
		}

		if err := r.applyScript(ctx, log, res, tx, &pending[i]); err != nil {
			return err
		}
	}

	return nil
}

// applied reads the ledger for scope. A dry run against a store that has
// never been migrated sees an empty ledger instead of creating the table.
func (r *Runner) applied(ctx context.Context, scope script.Scope) ([]tracker.AppliedRecord, error) {
	if r.dryRun {
		exists, err := r.store.LedgerExists(ctx)
		if err != nil {
			return nil, fmt.Errorf("checking ledger: %w", err)
		}

		if !exists {
			return nil, nil
		}
	}

	applied, err := r.store.Applied(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("reading %s ledger: %w", scope, err)
	}

	return applied, nil
}

// pending returns the scripts without a success record, keeping their
// sorted order.
func (r *Runner) pending(
	log *zap.Logger,
	res *Result,
	scripts []script.Script,
	applied []tracker.AppliedRecord,
) ([]script.Script, error) {
	byID := make(map[string]tracker.AppliedRecord, len(applied))
	latest := ""

	for _, a := range applied {
		byID[a.ScriptID] = a

		if a.ScriptID > latest {
			latest = a.ScriptID
		}
	}

	var pending []script.Script

	for i := range scripts {
		s := &scripts[i]

		rec, ok := byID[s.ID]
		if !ok {
			if s.ID < latest {
				log.Warn("Pending script sorts before an applied one",
					zap.String("script", s.ID), zap.String("latest_applied", latest))
			}

			pending = append(pending, *s)

			continue
		}

		res.Skipped++
		r.fireProgress(ProgressEvent{Script: s, Status: ProgressSkipped})

		if rec.Checksum == s.Checksum {
			continue
		}

		if r.cfg.ChecksumPolicy == config.ChecksumFail {
			return nil, fmt.Errorf("%s script %s: %w: stored=%s computed=%s",
				s.Scope(), s.ID, ErrChecksumMismatch, rec.Checksum, s.Checksum)
		}

		log.Warn("Applied script changed on disk; it will not be re-applied",
			zap.String("script", s.ID),
			zap.String("stored_checksum", rec.Checksum),
			zap.String("computed_checksum", s.Checksum),
		)
	}

	return pending, nil
}

// applyScript executes one script and its ledger record atomically.
func (r *Runner) applyScript(ctx context.Context, log *zap.Logger, res *Result, tx *txScope, s *script.Script) error {
	r.fireProgress(ProgressEvent{Script: s, Status: ProgressStarting})

	start := time.Now()
	execErr := r.execute(ctx, tx, s, start)
	duration := time.Since(start)

	if execErr != nil {
		scriptErr := &ScriptError{ScriptID: s.ID, Scope: s.Scope(), Err: execErr}
		res.add(Outcome{ScriptID: s.ID, Scope: s.Scope(), Status: StatusFailed, Duration: duration, Err: scriptErr})
		r.metrics.ObserveScript(string(s.Phase), string(StatusFailed), duration)

		log.Error("Script failed",
			zap.String("script", s.ID),
			zap.Stringer("scope", s.Scope()),
			zap.Duration("duration", duration),
			zap.Error(execErr),
		)

		r.recordFailure(ctx, log, s, duration)
		r.fireProgress(ProgressEvent{Script: s, Status: ProgressFailed, Duration: duration, Error: execErr})

		return scriptErr
	}

	res.add(Outcome{ScriptID: s.ID, Scope: s.Scope(), Status: StatusApplied, Duration: duration})
	r.metrics.ObserveScript(string(s.Phase), string(StatusApplied), duration)

	log.Info("Script applied",
		zap.String("script", s.ID),
		zap.Stringer("scope", s.Scope()),
		zap.Duration("duration", duration),
	)

	r.fireProgress(ProgressEvent{Script: s, Status: ProgressCompleted, Duration: duration})

	return nil
}

// execute runs the script body and writes its ledger row in the same
// transaction. Statements the store cannot run in a transaction are run
// directly and recorded in a transaction of their own.
func (r *Runner) execute(ctx context.Context, tx *txScope, s *script.Script, start time.Time) error {
	record := func(t Tx) error {
		return t.Record(ctx, tracker.ParamsFor(s, time.Since(start)))
	}

	if d, ok := r.store.(DirectExecer); ok && d.NeedsDirect(s.Body) {
		if tx.perRun {
			return ErrNonTransactional
		}

		if err := d.ExecDirect(ctx, s.Body); err != nil {
			return fmt.Errorf("executing outside transaction: %w", err)
		}

		return tx.apply(ctx, record)
	}

	return tx.apply(ctx, func(t Tx) error {
		if err := t.Exec(ctx, s.Body); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}

		return record(t)
	})
}

// recordFailure writes a failed ledger row after the script transaction has
// been rolled back. It is best-effort: the run already reports the failure.
func (r *Runner) recordFailure(ctx context.Context, log *zap.Logger, s *script.Script, d time.Duration) {
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := r.store.RecordFailed(recCtx, tracker.ParamsFor(s, d)); err != nil {
		log.Warn("Recording script failure in ledger failed", zap.String("script", s.ID), zap.Error(err))
	}
}

func (r *Runner) transition(log *zap.Logger, res *Result, next State) {
	log.Debug("Run state change", zap.Stringer("from", res.State), zap.Stringer("to", next))
	res.State = next
}

func (r *Runner) finish(log *zap.Logger, res *Result, start time.Time, err error) (*Result, error) {
	res.Duration = time.Since(start)

	if err != nil {
		r.transition(log, res, StateFailed)
		res.Err = err
		r.metrics.ObserveRun(metrics.OutcomeFailed)

		log.Error("Migration run failed",
			zap.Int("applied", res.Count(StatusApplied)),
			zap.Duration("duration", res.Duration),
			zap.Error(err),
		)

		return res, err
	}

	r.transition(log, res, StateSucceeded)
	res.Succeeded = true
	r.metrics.ObserveRun(metrics.OutcomeSucceeded)

	log.Info("Migration run completed",
		zap.Int("applied", res.Count(StatusApplied)),
		zap.Int("planned", res.Count(StatusPlanned)),
		zap.Int("skipped", res.Skipped),
		zap.Duration("duration", res.Duration),
	)

	return res, nil
}

func (r *Runner) fireProgress(event ProgressEvent) {
	if r.onProgress != nil {
		r.onProgress(event)
	}
}
