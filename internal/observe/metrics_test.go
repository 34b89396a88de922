package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestObserveProvider_PicksHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ObserveProvider(ctx, KindSTT, "whisper", 120*time.Millisecond, nil)
	m.ObserveProvider(ctx, KindTTS, "mimic3", 300*time.Millisecond, nil)
	m.ObserveProvider(ctx, KindTTS, "mimic3", 200*time.Millisecond, errors.New("exit 1"))
	m.ObserveProvider(ctx, "summary", "workspace", 2*time.Second, nil)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"derfbot.stt.duration": 1,
		"derfbot.tts.duration": 2,
		"derfbot.llm.duration": 1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		var count uint64
		for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
			count += dp.Count
		}
		if count != want {
			t.Errorf("%s count = %d, want %d", name, count, want)
		}
	}
	if got := sumFor(t, rm, "derfbot.provider.errors", "provider", "mimic3"); got != 1 {
		t.Errorf("mimic3 errors = %d, want 1", got)
	}
	if got := sumFor(t, rm, "derfbot.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
}

// sumFor returns the value of the data point of the named sum whose attribute
// key has value, or -1.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func TestRecordTask(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTask(ctx, "response_queue", OutcomeOK)
	m.RecordTask(ctx, "response_queue", OutcomeOK)
	m.RecordTask(ctx, "response_queue", OutcomeError)
	m.RecordTask(ctx, "audio_queue", OutcomeMalformed)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "derfbot.tasks.processed", "outcome", OutcomeOK); got != 2 {
		t.Errorf("ok = %d, want 2", got)
	}
	if got := sumFor(t, rm, "derfbot.tasks.processed", "outcome", OutcomeMalformed); got != 1 {
		t.Errorf("malformed = %d, want 1", got)
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordStage(context.Background(), "playback", 250*time.Millisecond)

	met := findMetric(collect(t, reader), "derfbot.stage.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 0.25 {
		t.Errorf("unexpected data points: %+v", hist.DataPoints)
	}
}

func TestCaptureAndTimeoutCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMailboxTimeout(ctx, "response")
	m.RecordMailboxTimeout(ctx, "response")
	m.CaptureFlushes.Add(ctx, 3)
	m.CaptureDropped.Add(ctx, 1)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "derfbot.mailbox.timeouts", "prefix", "response"); got != 2 {
		t.Errorf("mailbox timeouts = %d, want 2", got)
	}
	for name, want := range map[string]int64{
		"derfbot.capture.flushes": 3,
		"derfbot.capture.dropped": 1,
	} {
		sum := findMetric(rm, name).Data.(metricdata.Sum[int64])
		if sum.DataPoints[0].Value != want {
			t.Errorf("%s = %d, want %d", name, sum.DataPoints[0].Value, want)
		}
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSpeakers.Add(ctx, 3)
	m.ActiveSpeakers.Add(ctx, -1)
	m.InFlight.Add(ctx, 1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"derfbot.capture.active_speakers", 2},
		{"derfbot.requests.in_flight", 1},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
