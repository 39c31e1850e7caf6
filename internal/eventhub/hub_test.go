package eventhub_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lumina-panel/lumina/internal/eventhub"
)

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	hub := eventhub.New()
	defer hub.Shutdown()

	var last uint64
	for i := 0; i < 50; i++ {
		id := hub.Log(eventhub.LevelInfo, "test", fmt.Sprintf("line %d", i))
		if id <= last {
			t.Fatalf("expected strictly increasing ids, got %d after %d", id, last)
		}
		last = id
	}
	if got := hub.LatestID(); got != last {
		t.Fatalf("LatestID = %d, want %d", got, last)
	}
}

func TestFetchReturnsEventsAfterSinceID(t *testing.T) {
	hub := eventhub.New()
	defer hub.Shutdown()

	for i := 0; i < 10; i++ {
		hub.Log(eventhub.LevelInfo, "test", fmt.Sprintf("line %d", i))
	}

	events, gap := hub.Fetch(4, 0)
	if gap {
		t.Fatal("unexpected gap with all events retained")
	}
	if len(events) != 6 {
		t.Fatalf("expected 6 events after id 4, got %d", len(events))
	}
	for i, ev := range events {
		if want := uint64(5 + i); ev.ID != want {
			t.Fatalf("event %d: id = %d, want %d", i, ev.ID, want)
		}
	}
}

func TestFetchLimitCapsResult(t *testing.T) {
	hub := eventhub.New()
	defer hub.Shutdown()

	for i := 0; i < 10; i++ {
		hub.Log(eventhub.LevelInfo, "test", "line")
	}

	events, _ := hub.Fetch(0, 3)
	if len(events) != 3 {
		t.Fatalf("expected limit of 3 events, got %d", len(events))
	}
	if events[0].ID != 1 || events[2].ID != 3 {
		t.Fatalf("expected ids 1..3, got %d..%d", events[0].ID, events[2].ID)
	}
}

func TestEvictionReportsGap(t *testing.T) {
	hub := eventhub.New(eventhub.WithCapacity(5))
	defer hub.Shutdown()

	for i := 0; i < 8; i++ {
		hub.Log(eventhub.LevelInfo, "test", "line")
	}

	// ids 1..3 evicted; fetching from 0 must flag the gap.
	events, gap := hub.Fetch(0, 0)
	if !gap {
		t.Fatal("expected gap after eviction")
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 retained events, got %d", len(events))
	}
	if events[0].ID != 4 {
		t.Fatalf("oldest retained id = %d, want 4", events[0].ID)
	}

	// A reader already past the eviction horizon sees no gap.
	if _, gap := hub.Fetch(3, 0); gap {
		t.Fatal("unexpected gap for since_id at the eviction horizon")
	}
}

func TestFetchNeverYieldsDuplicates(t *testing.T) {
	hub := eventhub.New()
	defer hub.Shutdown()

	for i := 0; i < 20; i++ {
		hub.Log(eventhub.LevelInfo, "test", "line")
	}

	first, _ := hub.Fetch(0, 0)
	maxSeen := first[len(first)-1].ID

	for i := 0; i < 5; i++ {
		hub.Log(eventhub.LevelInfo, "test", "more")
	}

	second, _ := hub.Fetch(maxSeen, 0)
	for _, ev := range second {
		if ev.ID <= maxSeen {
			t.Fatalf("duplicate id %d returned after since_id %d", ev.ID, maxSeen)
		}
	}
	if len(second) != 5 {
		t.Fatalf("expected 5 new events, got %d", len(second))
	}
}

func TestSubscriberReceivesInOrder(t *testing.T) {
	hub := eventhub.New()
	defer hub.Shutdown()

	sub := hub.Subscribe(16)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		hub.Log(eventhub.LevelInfo, "test", "line")
	}

	var last uint64
	for i := 0; i < 10; i++ {
		select {
		case ev := <-sub.C():
			if ev.ID <= last {
				t.Fatalf("out-of-order delivery: %d after %d", ev.ID, last)
			}
			last = ev.ID
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	hub := eventhub.New()
	defer hub.Shutdown()

	sub := hub.Subscribe(2)

	// Never read: queue fills at 2, the third publish disconnects the
	// subscriber and closes its channel.
	for i := 0; i < 3; i++ {
		hub.Log(eventhub.LevelInfo, "test", "line")
	}

	received := 0
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				if received != 2 {
					t.Fatalf("expected 2 buffered events before close, got %d", received)
				}
				if m := hub.MetricsSnapshot(); m.DroppedSubscribers != 1 {
					t.Fatalf("DroppedSubscribers = %d, want 1", m.DroppedSubscribers)
				}
				return
			}
			received++
		case <-time.After(time.Second):
			t.Fatal("channel was not closed after overflow")
		}
	}
}

func TestStatusAndLogShareSequence(t *testing.T) {
	hub := eventhub.New()
	defer hub.Shutdown()

	logID := hub.Log(eventhub.LevelInfo, "test", "before")
	statusID := hub.Status(map[string]string{"state": "connected"})
	afterID := hub.Log(eventhub.LevelInfo, "test", "after")

	if statusID != logID+1 || afterID != statusID+1 {
		t.Fatalf("ids not contiguous across kinds: %d, %d, %d", logID, statusID, afterID)
	}

	events, _ := hub.Fetch(0, 0)
	if events[1].Kind != eventhub.KindStatus {
		t.Fatalf("expected status event at position 1, got %s", events[1].Kind)
	}
	if len(events[1].Data) == 0 {
		t.Fatal("status event carries no data")
	}
}

func TestConcurrentPublishKeepsSequenceDense(t *testing.T) {
	hub := eventhub.New()
	defer hub.Shutdown()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				hub.Log(eventhub.LevelInfo, "worker", "line")
			}
		}()
	}
	wg.Wait()

	if got := hub.LatestID(); got != workers*perWorker {
		t.Fatalf("LatestID = %d, want %d", got, workers*perWorker)
	}

	events, gap := hub.Fetch(0, workers*perWorker)
	if gap {
		t.Fatal("unexpected gap")
	}
	for i, ev := range events {
		if ev.ID != uint64(i+1) {
			t.Fatalf("sequence not dense at %d: id %d", i, ev.ID)
		}
	}
}

func TestShutdownClosesSubscribers(t *testing.T) {
	hub := eventhub.New()
	sub := hub.Subscribe(4)

	hub.Shutdown()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed")
	}

	if id := hub.Log(eventhub.LevelInfo, "test", "late"); id != 0 {
		t.Fatalf("publish after shutdown returned id %d", id)
	}
}
