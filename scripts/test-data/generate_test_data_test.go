package main

import (
	"testing"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
)

func TestGenerateEvents(t *testing.T) {
	opts := options{offers: 50, burstMakers: 2, burstSize: 6, redeliverRatio: 0.2, seed: 7, startMs: 1}
	evs := generateEvents(opts)

	ids := map[string]*events.NormalizedEvent{}
	cancels := map[string]int{}
	for _, ev := range evs {
		if err := ev.Validate(); err != nil {
			t.Fatalf("generated invalid event %s: %v", ev.EventID, err)
		}
		if prev, ok := ids[ev.EventID]; ok {
			if prev != ev {
				t.Errorf("event id %s reused for a different event", ev.EventID)
			}
			continue
		}
		ids[ev.EventID] = ev
		if ev.EventKind == events.KindCancelled {
			cancels[ev.Maker]++
		}
	}

	if len(evs) <= len(ids) {
		t.Errorf("expected redeliveries, got %d events for %d ids", len(evs), len(ids))
	}
	for m := 0; m < 2; m++ {
		maker := "burstMaker" + string(rune('0'+m))
		if cancels[maker] != 6 {
			t.Errorf("%s cancellations = %d, want 6", maker, cancels[maker])
		}
	}
}

func TestGenerateEvents_Deterministic(t *testing.T) {
	opts := options{offers: 20, burstMakers: 1, burstSize: 5, redeliverRatio: 0.1, shuffle: true, seed: 42, startMs: 1}
	a, b := generateEvents(opts), generateEvents(opts)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].EventID != b[i].EventID {
			t.Fatalf("event %d differs: %s vs %s", i, a[i].EventID, b[i].EventID)
		}
	}
}
