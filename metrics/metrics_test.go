package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/previewd/previewd/models"
)

func TestRecordTransitionIncrementsCounter(t *testing.T) {
	recorder := New()

	recorder.RecordTransition("create", "success")
	recorder.RecordTransition("create", "success")
	recorder.RecordTransition("destroy", "error")

	got := testutil.ToFloat64(recorder.transitionsTotal.WithLabelValues("create", "success"))
	if got != 2 {
		t.Fatalf("create/success count = %v, want 2", got)
	}
	got = testutil.ToFloat64(recorder.transitionsTotal.WithLabelValues("destroy", "error"))
	if got != 1 {
		t.Fatalf("destroy/error count = %v, want 1", got)
	}
}

func TestRecordTaskFailureIncrementsCounter(t *testing.T) {
	recorder := New()

	recorder.RecordTaskFailure("orphan_sweep")

	got := testutil.ToFloat64(recorder.reconcilerTaskFailures.WithLabelValues("orphan_sweep"))
	if got != 1 {
		t.Fatalf("orphan_sweep failure count = %v, want 1", got)
	}
}

func TestObserveTickDurationRecordsIntoHistogram(t *testing.T) {
	recorder := New()

	recorder.ObserveTickDuration(250 * time.Millisecond)

	metricFamilies, err := recorder.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found bool
	for _, family := range metricFamilies {
		if family.GetName() != "reconciler_tick_duration_seconds" {
			continue
		}
		found = true
		if family.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
			t.Fatalf("sample count = %d, want 1", family.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	if !found {
		t.Fatal("reconciler_tick_duration_seconds not found in registry")
	}
}

func TestRefreshPreviewCountsResetsStaleStatuses(t *testing.T) {
	recorder := New()

	recorder.RefreshPreviewCounts(map[models.PreviewStatus]int{
		models.StatusRunning: 3,
		models.StatusFailed:  1,
	})
	if got := testutil.ToFloat64(recorder.previewsTotal.WithLabelValues(string(models.StatusRunning))); got != 3 {
		t.Fatalf("running count = %v, want 3", got)
	}

	// a second refresh that omits StatusFailed entirely should zero it out, not leave
	// the stale value of 1 behind -- Reset() before repopulating is what guarantees this.
	recorder.RefreshPreviewCounts(map[models.PreviewStatus]int{
		models.StatusRunning: 1,
	})
	if got := testutil.ToFloat64(recorder.previewsTotal.WithLabelValues(string(models.StatusFailed))); got != 0 {
		t.Fatalf("stale failed count = %v, want 0", got)
	}

	metricFamilies, err := recorder.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var renderedNames []string
	for _, family := range metricFamilies {
		renderedNames = append(renderedNames, family.GetName())
	}
	if !strings.Contains(strings.Join(renderedNames, ","), "previews_total") {
		t.Fatal("previews_total not registered on the recorder's registry")
	}
}
