package metrics

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestNewCollector(t *testing.T) {
	collector := NewCollector()

	if collector == nil {
		t.Fatal("NewCollector() returned nil")
	}

	metrics := collector.GetMetrics()
	if metrics.Joins != 0 || metrics.DiffsApplied != 0 {
		t.Errorf("Expected zero counters, got %+v", metrics)
	}
	if metrics.StartTime.IsZero() {
		t.Error("StartTime not initialized")
	}
}

func TestSessionLifecycleMetrics(t *testing.T) {
	collector := NewCollector()

	collector.IncrementJoin(100)
	collector.IncrementJoin(50)
	collector.IncrementJoin(10)

	metrics := collector.GetMetrics()
	if metrics.Joins != 3 {
		t.Errorf("Expected 3 joins, got %d", metrics.Joins)
	}
	if metrics.ActiveSessions != 3 || metrics.MaxActiveSessions != 3 {
		t.Errorf("Expected 3 active and max sessions, got %d/%d", metrics.ActiveSessions, metrics.MaxActiveSessions)
	}
	if metrics.BytesReceived != 160 {
		t.Errorf("Expected 160 bytes received, got %d", metrics.BytesReceived)
	}

	collector.IncrementReset()
	metrics = collector.GetMetrics()
	if metrics.Resets != 1 || metrics.ActiveSessions != 2 {
		t.Errorf("Expected 1 reset and 2 active sessions, got %d/%d", metrics.Resets, metrics.ActiveSessions)
	}
	if metrics.MaxActiveSessions != 3 {
		t.Errorf("Expected max active sessions to remain 3, got %d", metrics.MaxActiveSessions)
	}
}

func TestResetNeverGoesNegative(t *testing.T) {
	collector := NewCollector()
	collector.IncrementReset()
	collector.IncrementReset()

	if active := collector.GetMetrics().ActiveSessions; active != 0 {
		t.Errorf("Expected 0 active sessions, got %d", active)
	}
}

func TestDiffAndErrorMetrics(t *testing.T) {
	collector := NewCollector()

	collector.IncrementJoin(10)
	for i := 0; i < 6; i++ {
		collector.IncrementDiffApplied(5)
	}
	collector.IncrementDecodeError()
	collector.IncrementRenderError()
	collector.IncrementPatchError()
	collector.AddComponentsDropped(4)
	collector.UpdateMarkupSize(1234)

	metrics := collector.GetMetrics()
	if metrics.DiffsApplied != 6 {
		t.Errorf("Expected 6 diffs applied, got %d", metrics.DiffsApplied)
	}
	if metrics.DecodeErrors != 1 || metrics.RenderErrors != 1 || metrics.PatchErrors != 1 {
		t.Errorf("Expected one error of each kind, got %+v", metrics)
	}
	if metrics.ComponentsDropped != 4 {
		t.Errorf("Expected 4 components dropped, got %d", metrics.ComponentsDropped)
	}
	if metrics.MarkupBytes != 1234 {
		t.Errorf("Expected markup size 1234, got %d", metrics.MarkupBytes)
	}

	// 3 failures out of 10 payloads
	if rate := collector.GetErrorRate(); rate != 30.0 {
		t.Errorf("Expected error rate 30.0, got %f", rate)
	}
}

func TestErrorRateEmpty(t *testing.T) {
	if rate := NewCollector().GetErrorRate(); rate != 0.0 {
		t.Errorf("Expected error rate 0.0, got %f", rate)
	}
}

func TestCustomCounters(t *testing.T) {
	collector := NewCollector()

	collector.IncrementCustomCounter("rejoin")
	collector.IncrementCustomCounter("rejoin")
	collector.IncrementCustomCounter("heartbeat")
	collector.AddCustomCounter("update_append", 3)

	counters := collector.GetCustomCounters()
	if counters["rejoin"] != 2 {
		t.Errorf("Expected rejoin counter 2, got %d", counters["rejoin"])
	}
	if counters["heartbeat"] != 1 {
		t.Errorf("Expected heartbeat counter 1, got %d", counters["heartbeat"])
	}
	if counters["update_append"] != 3 {
		t.Errorf("Expected update_append counter 3, got %d", counters["update_append"])
	}
}

func TestConcurrentUpdates(t *testing.T) {
	collector := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				collector.IncrementDiffApplied(1)
				collector.IncrementCustomCounter("diff")
			}
		}()
	}
	wg.Wait()

	if got := collector.GetMetrics().DiffsApplied; got != 1000 {
		t.Errorf("Expected 1000 diffs applied, got %d", got)
	}
	if got := collector.GetCustomCounters()["diff"]; got != 1000 {
		t.Errorf("Expected custom counter 1000, got %d", got)
	}
}

func TestMetricsJSON(t *testing.T) {
	collector := NewCollector()
	collector.IncrementJoin(1)

	data, err := json.Marshal(collector.GetMetrics())
	if err != nil {
		t.Fatalf("Failed to marshal metrics: %v", err)
	}
	for _, key := range []string{`"joins":1`, `"diffs_applied":0`, `"components_dropped":0`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected %s in %s", key, data)
		}
	}
}
