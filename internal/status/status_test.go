package status

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestUpdateStatusMergesDetails(t *testing.T) {
	tracker := NewTracker(slog.Default())

	tracker.UpdateStatus("m1", StatusAnalyzing, Details{Stage: "analysis", StageDetails: "selecting agent"})
	record := tracker.UpdateStatus("m1", StatusReplying, Details{AgentName: "billing"})

	if record.Status != StatusReplying {
		t.Fatalf("expected replying, got %s", record.Status)
	}
	// Stage from the first update survives the second.
	if record.ProcessingStage.Stage != "analysis" {
		t.Fatalf("expected merged stage, got %q", record.ProcessingStage.Stage)
	}
	if record.AgentName != "billing" {
		t.Fatalf("expected agent name, got %q", record.AgentName)
	}
}

func TestMarkAsProcessingClaimsOnce(t *testing.T) {
	tracker := NewTracker(slog.Default())

	if !tracker.MarkAsProcessing("m1") {
		t.Fatal("first claim should succeed")
	}
	if tracker.MarkAsProcessing("m1") {
		t.Fatal("second claim should fail while active")
	}
	if !tracker.IsProcessing("m1") {
		t.Fatal("expected id to be processing")
	}
}

func TestConcurrentClaimsOnlyOneWins(t *testing.T) {
	tracker := NewTracker(slog.Default())

	var wg sync.WaitGroup
	wins := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.MarkAsProcessing("m1") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", won)
	}
}

func TestMarkAsProcessedGraceAndSweep(t *testing.T) {
	current := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(slog.Default(),
		WithGrace(5*time.Second, 5*time.Minute),
		WithClock(func() time.Time { return current }))

	tracker.MarkAsProcessing("m1")
	tracker.UpdateStatus("m1", StatusCompleted, Details{Response: "done"})
	tracker.MarkAsProcessed("m1")

	// Completion is visible immediately.
	if !tracker.IsProcessed("m1") {
		t.Fatal("expected processed flag right after MarkAsProcessed")
	}
	// The claim is held through the release grace so a racing duplicate
	// trigger still short-circuits.
	if !tracker.IsProcessing("m1") {
		t.Fatal("expected claim held during release grace")
	}
	if tracker.MarkAsProcessing("m1") {
		t.Fatal("claim during grace should fail")
	}

	current = current.Add(6 * time.Second)
	if tracker.IsProcessing("m1") {
		t.Fatal("expected claim released after grace")
	}
	released, evicted := tracker.Sweep()
	if released != 1 || evicted != 0 {
		t.Fatalf("expected 1 released, 0 evicted; got %d, %d", released, evicted)
	}
	// The status record survives until the eviction grace elapses.
	if _, ok := tracker.GetStatus("m1"); !ok {
		t.Fatal("expected record still cached")
	}

	current = current.Add(5 * time.Minute)
	if _, evicted = tracker.Sweep(); evicted != 1 {
		t.Fatalf("expected record evicted, got %d", evicted)
	}
	if _, ok := tracker.GetStatus("m1"); ok {
		t.Fatal("expected record gone after eviction")
	}
}

func TestResetAllowsReprocessing(t *testing.T) {
	tracker := NewTracker(slog.Default())

	tracker.MarkAsProcessing("m1")
	tracker.UpdateStatus("m1", StatusError, Details{ProcessingDetails: "boom"})
	tracker.MarkAsProcessed("m1")

	tracker.Reset("m1")
	if !tracker.MarkAsProcessing("m1") {
		t.Fatal("expected claim to succeed after reset")
	}
	if _, ok := tracker.GetStatus("m1"); ok {
		t.Fatal("expected record cleared after reset")
	}
}

func TestListStatusesUnknownIsNew(t *testing.T) {
	tracker := NewTracker(slog.Default())
	tracker.MarkAsProcessing("m1")
	tracker.UpdateStatus("m1", StatusDelegating, Details{})

	summaries := tracker.ListStatuses([]string{"m1", "m2"})
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Status != StatusDelegating || !summaries[0].IsProcessing {
		t.Fatalf("unexpected summary for m1: %+v", summaries[0])
	}
	if summaries[1].Status != StatusNew || summaries[1].IsProcessing {
		t.Fatalf("unexpected summary for m2: %+v", summaries[1])
	}
}
