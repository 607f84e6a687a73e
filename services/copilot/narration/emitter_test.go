// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package narration

import (
	"testing"
)

func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestEmitter_TaskLifecycleReachesSubscriber(t *testing.T) {
	e := NewEmitter(nil)
	ch, cancel := e.Subscribe()
	defer cancel()

	taskID := e.TaskStarted("enrichment")
	if taskID == "" {
		t.Fatal("TaskStarted returned empty task ID")
	}
	e.StepUpdate(taskID, "enrichment", "fetching gene set", 0, StepRunning)
	e.StepUpdate(taskID, "enrichment", "computing overlap", 1, StepOK)
	e.TaskCompleted(taskID, "enrichment", StepOK)

	events := drain(ch)
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0].Type != TaskStarted || events[3].Type != TaskCompleted {
		t.Errorf("unexpected event ordering: first=%s last=%s", events[0].Type, events[3].Type)
	}
	for i, ev := range events {
		if ev.TaskID != taskID {
			t.Errorf("event %d carries task ID %q, want %q", i, ev.TaskID, taskID)
		}
		if ev.Timestamp == 0 {
			t.Errorf("event %d has zero timestamp", i)
		}
	}
	if events[1].Step != "fetching gene set" || events[1].StepIndex != 0 {
		t.Errorf("step event = %+v, want step 0 'fetching gene set'", events[1])
	}
}

func TestEmitter_PublisherNeverBlocksOnFullSubscriber(t *testing.T) {
	e := NewEmitter(nil)
	ch, cancel := e.Subscribe()
	defer cancel()

	taskID := e.TaskStarted("render")
	// Overrun the buffer; the publisher must keep going.
	for i := 0; i < subscriberBuffer*2; i++ {
		e.StepUpdate(taskID, "render", "layout", i, StepRunning)
	}

	events := drain(ch)
	if len(events) != subscriberBuffer {
		t.Errorf("got %d buffered events, want %d", len(events), subscriberBuffer)
	}
}

func TestEmitter_NoSubscribersIsFine(t *testing.T) {
	e := NewEmitter(nil)
	taskID := e.TaskStarted("thresholds")
	e.TaskCompleted(taskID, "thresholds", StepFailed)
	if got := e.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}
}

func TestEmitter_CancelRemovesSubscriberAndClosesChannel(t *testing.T) {
	e := NewEmitter(nil)
	ch, cancel := e.Subscribe()
	if got := e.SubscriberCount(); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}

	cancel()
	cancel() // idempotent

	if got := e.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after cancel = %d, want 0", got)
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic on the closed channel.
	e.TaskStarted("enrichment")
}

func TestEmitter_IndependentSubscribers(t *testing.T) {
	e := NewEmitter(nil)
	ch1, cancel1 := e.Subscribe()
	ch2, cancel2 := e.Subscribe()
	defer cancel1()
	defer cancel2()

	e.TaskStarted("enrichment")

	if got := len(drain(ch1)); got != 1 {
		t.Errorf("subscriber 1 got %d events, want 1", got)
	}
	if got := len(drain(ch2)); got != 1 {
		t.Errorf("subscriber 2 got %d events, want 1", got)
	}
}
