// Package reconciler implements the background reconciliation loop described in
// SPEC_FULL.md §4.7: a fixed-interval tick that runs idle eviction, tombstone GC, quota
// enforcement, an orphan-container sweep, event retention, the Redis touch-buffer flush,
// and a previews_total metrics refresh, all without letting one task's failure abort the
// others. the fixed-interval schedule itself is driven by github.com/robfig/cron/v3 (see
// §4.7a) rather than a hand-rolled time.Ticker loop; the tick job is wrapped in
// cron.SkipIfStillRunning so ticks never overlap. the tasks of one tick run one after
// another, in the order runTick lists them.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/previewd/previewd/accesstrack"
	"github.com/previewd/previewd/metrics"
	"github.com/previewd/previewd/models"
	"github.com/previewd/previewd/runtime"
)

// MetadataStore is the subset of store.Store the reconciler reads and mutates directly
// (ie without going through the Orchestrator) for tombstone GC and retention.
type MetadataStore interface {
	ListByStatuses(statuses ...models.PreviewStatus) ([]*models.Preview, error)
	DeleteAllEventsFor(previewRef string) error
	DeletePreview(previewId string) error
	RetentionSweep(days int) (int64, error)
}

// ContainerRuntime is the subset of runtime.Client the orphan sweep uses.
type ContainerRuntime interface {
	ListByLabel(ctx context.Context, key, value string) ([]runtime.ContainerSummary, error)
	RemoveContainer(ctx context.Context, containerID string, force bool) error
}

// Destroyer is the narrow slice of orchestrator.Orchestrator the reconciler drives --
// every destructive action the reconciler takes goes through Destroy so it acquires the
// same per-previewId lock a concurrent API-triggered destroy would, per SPEC_FULL.md §5.
type Destroyer interface {
	Destroy(ctx context.Context, previewId string) error
}

// Config carries the reconciler's tunables.
type Config struct {
	Interval            time.Duration
	IdleTimeout          time.Duration
	TombstoneRetention   time.Duration
	EventRetentionDays   int
	MaxPreviewsGlobal    int
}

// Reconciler owns the cron schedule and the five named tasks plus the touch-buffer flush
// and the metrics refresh.
type Reconciler struct {
	store      MetadataStore
	runtime    ContainerRuntime
	orchestrator Destroyer
	access     *accesstrack.Tracker
	logger     *slog.Logger
	cfg        Config
	cronRunner *cron.Cron
	metricsRecorder *metrics.Recorder
}

// SetMetrics attaches a metrics.Recorder so tick duration, per-task failures, and the
// previews_total gauge are reported. optional: a Reconciler with no recorder attached (the
// default, and the state every reconciler test runs in) simply records nothing.
func (r *Reconciler) SetMetrics(recorder *metrics.Recorder) {
	r.metricsRecorder = recorder
}

// New constructs a Reconciler. call Start to begin the fixed-interval schedule plus the
// one-shot warmup tick.
func New(store MetadataStore, rt ContainerRuntime, orch Destroyer, access *accesstrack.Tracker, logger *slog.Logger, cfg Config) *Reconciler {
	return &Reconciler{
		store:        store,
		runtime:      rt,
		orchestrator: orch,
		access:       access,
		logger:       logger,
		cfg:          cfg,
	}
}

// Start schedules the fixed-interval tick via robfig/cron and fires a one-shot warmup
// tick roughly 5 seconds after start, keeping the teacher's own time.AfterFunc-style
// one-shot idiom for the warmup since cron has no native "once, then switch to a
// schedule" primitive (SPEC_FULL.md §4.7a).
func (r *Reconciler) Start(ctx context.Context) error {
	r.cronRunner = cron.New(cron.WithSeconds())

	// the scheduled ticks and the warmup tick share one SkipIfStillRunning wrapper, so a
	// tick that comes due while another is still running is skipped.
	tick := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		r.runTick(ctx)
	}))

	spec := fmt.Sprintf("@every %dm", int(r.cfg.Interval.Minutes()))
	_, err := r.cronRunner.AddJob(spec, tick)
	if err != nil {
		return fmt.Errorf("schedule reconciler tick %q: %w", spec, err)
	}

	r.cronRunner.Start()

	time.AfterFunc(5*time.Second, tick.Run)

	return nil
}

// Stop halts the cron schedule. any in-flight tick is allowed to finish.
func (r *Reconciler) Stop() {
	if r.cronRunner != nil {
		stopCtx := r.cronRunner.Stop()
		<-stopCtx.Done()
	}
}

// runTick runs every task for one tick. per-task failures are logged, never fatal to the
// tick as a whole, and never propagated to any caller -- the Reconciler has no caller to
// propagate to.
func (r *Reconciler) runTick(ctx context.Context) {
	start := time.Now()
	r.logger.Info("reconciler tick starting")

	r.runTask(ctx, "idle_eviction", r.idleEviction)
	r.runTask(ctx, "tombstone_gc", r.tombstoneGC)
	r.runTask(ctx, "quota_enforcement", r.quotaEnforcement)
	r.runTask(ctx, "orphan_sweep", r.orphanSweep)
	r.runTask(ctx, "event_retention", r.eventRetention)
	r.runTask(ctx, "touch_flush", r.flushTouches)
	r.runTask(ctx, "refresh_metrics", r.refreshPreviewCounts)

	elapsed := time.Since(start)
	if r.metricsRecorder != nil {
		r.metricsRecorder.ObserveTickDuration(elapsed)
	}
	r.logger.Info("reconciler tick complete", "duration", elapsed)
}

func (r *Reconciler) runTask(ctx context.Context, name string, task func(context.Context) error) {
	if err := task(ctx); err != nil {
		r.logger.Error("reconciler task failed", "task", name, "error", err)
		if r.metricsRecorder != nil {
			r.metricsRecorder.RecordTaskFailure(name)
		}
	}
}

// refreshPreviewCounts repopulates the previews_total gauge, the seventh per-tick task
// added by the §6 expansion's /metrics surface -- a no-op when no recorder is attached.
func (r *Reconciler) refreshPreviewCounts(ctx context.Context) error {
	if r.metricsRecorder == nil {
		return nil
	}

	allStatuses := []models.PreviewStatus{
		models.StatusCreating, models.StatusRunning, models.StatusUpdating,
		models.StatusDestroying, models.StatusDestroyed, models.StatusFailed,
	}
	counts := make(map[models.PreviewStatus]int, len(allStatuses))
	for _, status := range allStatuses {
		previews, err := r.store.ListByStatuses(status)
		if err != nil {
			return fmt.Errorf("count previews with status %q: %w", status, err)
		}
		counts[status] = len(previews)
	}

	r.metricsRecorder.RefreshPreviewCounts(counts)
	return nil
}

// idleEviction destroys every RUNNING preview whose lastAccessedAt is older than the
// configured idle timeout.
func (r *Reconciler) idleEviction(ctx context.Context) error {
	running, err := r.store.ListByStatuses(models.StatusRunning)
	if err != nil {
		return fmt.Errorf("list running previews: %w", err)
	}

	cutoff := time.Now().UTC().Add(-r.cfg.IdleTimeout)
	for _, preview := range running {
		if preview.LastAccessedAt.Before(cutoff) {
			if err := r.orchestrator.Destroy(ctx, preview.PreviewId); err != nil {
				r.logger.Error("idle eviction destroy failed", "preview_id", preview.PreviewId, "error", err)
			}
		}
	}
	return nil
}

// tombstoneGC deletes the events and then the record of every DESTROYED preview whose
// updatedAt is older than the configured tombstone retention window.
func (r *Reconciler) tombstoneGC(ctx context.Context) error {
	destroyed, err := r.store.ListByStatuses(models.StatusDestroyed)
	if err != nil {
		return fmt.Errorf("list destroyed previews: %w", err)
	}

	cutoff := time.Now().UTC().Add(-r.cfg.TombstoneRetention)
	for _, preview := range destroyed {
		if preview.UpdatedAt.After(cutoff) {
			continue
		}
		if err := r.store.DeleteAllEventsFor(preview.PreviewId); err != nil {
			r.logger.Error("tombstone gc: delete events failed", "preview_id", preview.PreviewId, "error", err)
			continue
		}
		if err := r.store.DeletePreview(preview.PreviewId); err != nil {
			r.logger.Error("tombstone gc: delete preview failed", "preview_id", preview.PreviewId, "error", err)
		}
	}
	return nil
}

// quotaEnforcement counts every active (CREATING or RUNNING) preview and, if the global
// ceiling is exceeded, destroys the oldest-by-lastAccessedAt excess.
func (r *Reconciler) quotaEnforcement(ctx context.Context) error {
	if r.cfg.MaxPreviewsGlobal < 0 {
		return nil
	}

	active, err := r.store.ListByStatuses(models.StatusCreating, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("list active previews: %w", err)
	}

	excess := len(active) - r.cfg.MaxPreviewsGlobal
	if excess <= 0 {
		return nil
	}

	sortByLastAccessedAscending(active)
	for _, preview := range active[:excess] {
		if err := r.orchestrator.Destroy(ctx, preview.PreviewId); err != nil {
			r.logger.Error("quota enforcement destroy failed", "preview_id", preview.PreviewId, "error", err)
		}
	}
	return nil
}

// orphanSweep force-removes every managed container whose preview label no longer maps
// to a non-DESTROYED record.
func (r *Reconciler) orphanSweep(ctx context.Context) error {
	containers, err := r.runtime.ListByLabel(ctx, "managed", "true")
	if err != nil {
		return fmt.Errorf("list managed containers: %w", err)
	}

	live, err := r.liveNonDestroyedPreviewIDs()
	if err != nil {
		return fmt.Errorf("list live previews: %w", err)
	}

	for _, c := range containers {
		previewId := c.Labels["preview"]
		if previewId == "" {
			continue
		}
		if live[previewId] {
			continue
		}
		if err := r.runtime.RemoveContainer(ctx, c.ID, true); err != nil {
			r.logger.Error("orphan sweep: remove container failed", "container_id", c.ID, "preview_id", previewId, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) liveNonDestroyedPreviewIDs() (map[string]bool, error) {
	live := map[string]bool{}
	previews, err := r.store.ListByStatuses(
		models.StatusCreating, models.StatusRunning, models.StatusUpdating, models.StatusDestroying, models.StatusFailed,
	)
	if err != nil {
		return nil, err
	}
	for _, p := range previews {
		live[p.PreviewId] = true
	}
	return live, nil
}

// eventRetention deletes events older than the configured retention window -- a backstop
// behind the store-level TTL.
func (r *Reconciler) eventRetention(ctx context.Context) error {
	deleted, err := r.store.RetentionSweep(r.cfg.EventRetentionDays)
	if err != nil {
		return fmt.Errorf("event retention sweep: %w", err)
	}
	if deleted > 0 {
		r.logger.Info("event retention sweep deleted rows", "count", deleted)
	}
	return nil
}

// flushTouches drains the Redis lastAccessedAt touch buffer into the metadata store, the
// sixth task added by SPEC_FULL.md §4.5a/§4.7a, run after the five named tasks and before
// the metrics refresh.
func (r *Reconciler) flushTouches(ctx context.Context) error {
	flushed, err := r.access.FlushTouches(ctx)
	if err != nil {
		return fmt.Errorf("flush touch buffer: %w", err)
	}
	if flushed > 0 {
		r.logger.Info("flushed buffered access touches", "count", flushed)
	}
	return nil
}

func sortByLastAccessedAscending(previews []*models.Preview) {
	for i := 1; i < len(previews); i++ {
		for j := i; j > 0 && previews[j].LastAccessedAt.Before(previews[j-1].LastAccessedAt); j-- {
			previews[j], previews[j-1] = previews[j-1], previews[j]
		}
	}
}
