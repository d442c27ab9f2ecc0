package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector("test")
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.Registry() == nil {
		t.Error("registry should not be nil")
	}
}

func TestNewCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector("")
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "zee1_process_uptime_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("expected metrics under the default 'zee1' namespace")
	}
}

func TestCollector_LifecycleMetrics(t *testing.T) {
	c := NewCollector("test")

	c.RecordPhase(2)
	if got := testutil.ToFloat64(c.phase); got != 2 {
		t.Errorf("phase = %v, want 2", got)
	}

	c.RecordEngineStatus("video", 2)
	if got := testutil.ToFloat64(c.engineStatus.WithLabelValues("video")); got != 2 {
		t.Errorf("engine status = %v, want 2", got)
	}

	c.RecordLaunch("video", 10*time.Millisecond, nil)
	c.RecordLaunch("audio", 5*time.Millisecond, errors.New("no device"))
	c.RecordShutdown("audio", time.Millisecond, errors.New("busy"))
	c.RecordUpdate("control", time.Millisecond, errors.New("lost input"))

	if got := testutil.ToFloat64(c.failures.WithLabelValues("audio", "launch")); got != 1 {
		t.Errorf("launch failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("audio", "shutdown")); got != 1 {
		t.Errorf("shutdown failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("control", "update")); got != 1 {
		t.Errorf("update failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.failures.WithLabelValues("video", "launch")); got != 0 {
		t.Errorf("video launch failures = %v, want 0", got)
	}
}

func TestCollector_FrameMetrics(t *testing.T) {
	c := NewCollector("test")

	for i := 0; i < 11; i++ {
		c.RecordFrame(2 * time.Millisecond)
	}
	c.RecordStopRequest()
	c.RecordRun(nil)
	c.RecordRun(errors.New("update failed"))

	if got := testutil.ToFloat64(c.frames); got != 11 {
		t.Errorf("frames = %v, want 11", got)
	}
	if got := testutil.ToFloat64(c.stopRequests); got != 1 {
		t.Errorf("stop requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.runs.WithLabelValues("success")); got != 1 {
		t.Errorf("successful runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.runs.WithLabelValues("error")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
}

func TestCollector_ProcessMetrics(t *testing.T) {
	c := NewCollector("test")
	c.UpdateUptime()

	if got := c.residentMemory(); got <= 0 {
		t.Errorf("residentMemory() = %v, want > 0", got)
	}
	if got := c.cpuPercent(); got < 0 {
		t.Errorf("cpuPercent() = %v, want >= 0", got)
	}
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector("test")
	c.RecordPhase(4)
	c.RecordEngineStatus("video", 7)

	c.Reset()

	if got := testutil.ToFloat64(c.phase); got != 0 {
		t.Errorf("phase after reset = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(c.engineStatus); n != 0 {
		t.Errorf("engine status series after reset = %d, want 0", n)
	}
}

func TestNoOpCollector(t *testing.T) {
	c := NewNoOpCollector()

	// Should not panic
	c.RecordPhase(1)
	c.RecordEngineStatus("video", 1)
	c.RecordLaunch("video", time.Millisecond, nil)
	c.RecordShutdown("video", time.Millisecond, nil)
	c.RecordUpdate("video", time.Millisecond, nil)
	c.RecordFrame(time.Millisecond)
	c.RecordStopRequest()
	c.RecordRun(nil)
	c.UpdateUptime()
	c.Reset()
}
