// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package narration broadcasts best-effort progress events for
// long-running agent tasks (enrichment runs, pathway renders) to any
// connected frontends. Delivery is lossy on purpose: a slow or absent
// subscriber must never stall the agent loop.
package narration

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is the lifecycle stage of a narrated task.
type EventType string

const (
	TaskStarted   EventType = "task_started"
	TaskUpdated   EventType = "task_updated"
	TaskCompleted EventType = "task_completed"
)

// StepStatus reports how an individual step ended.
type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
)

// Event is one narration datum pushed to subscribers.
type Event struct {
	Type      EventType  `json:"type"`
	TaskID    string     `json:"task_id"`
	TaskName  string     `json:"task_name"`
	Step      string     `json:"step,omitempty"`
	StepIndex int        `json:"step_index,omitempty"`
	Status    StepStatus `json:"status,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel. Events past the
// buffer are dropped, not queued.
const subscriberBuffer = 16

// Emitter fans narration events out to subscribers without blocking
// the publisher.
//
// Thread Safety: all methods are safe for concurrent use.
type Emitter struct {
	mu     sync.Mutex
	subs   map[string]chan Event
	logger *slog.Logger
}

// NewEmitter creates an Emitter. A nil logger falls back to
// slog.Default().
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		subs:   make(map[string]chan Event),
		logger: logger,
	}
}

// Subscribe registers a new subscriber and returns its event channel
// plus a cancel function. The channel is closed when cancel is called.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)

	e.mu.Lock()
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (e *Emitter) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// TaskStarted publishes the start of a named task and returns the task
// ID to thread through subsequent updates.
func (e *Emitter) TaskStarted(taskName string) string {
	taskID := uuid.New().String()
	e.publish(Event{
		Type:      TaskStarted,
		TaskID:    taskID,
		TaskName:  taskName,
		Timestamp: time.Now().UnixMilli(),
	})
	return taskID
}

// StepUpdate publishes progress on one step of a running task.
func (e *Emitter) StepUpdate(taskID, taskName, step string, stepIndex int, status StepStatus) {
	e.publish(Event{
		Type:      TaskUpdated,
		TaskID:    taskID,
		TaskName:  taskName,
		Step:      step,
		StepIndex: stepIndex,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
}

// TaskCompleted publishes the end of a task.
func (e *Emitter) TaskCompleted(taskID, taskName string, status StepStatus) {
	e.publish(Event{
		Type:      TaskCompleted,
		TaskID:    taskID,
		TaskName:  taskName,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
}

// publish delivers to every subscriber, dropping when a buffer is
// full. The publisher never blocks.
func (e *Emitter) publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, ch := range e.subs {
		select {
		case ch <- ev:
			recordDelivered(string(ev.Type))
		default:
			recordDropped(string(ev.Type))
			e.logger.Debug("narration event dropped for slow subscriber",
				slog.String("subscriber", id),
				slog.String("type", string(ev.Type)),
				slog.String("task", ev.TaskName))
		}
	}
}
