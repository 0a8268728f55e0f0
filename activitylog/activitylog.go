// Package activitylog stores tracker events in the key-value store so a run
// can be inspected after it finished.
package activitylog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"time"

	libkv "github.com/contenox/planner/libkvstore"
	"github.com/contenox/planner/libtracker"
	"github.com/google/uuid"
)

const (
	logKey        = "activity:log"
	tracesKey     = "activity:traces"
	operationsKey = "activity:operations"
	tracePrefix   = "activity:trace:"

	DefaultLogSize = 1000
)

type KVSink struct {
	kvManager libkv.KVManager
	logSize   int64
}

func NewKVSink(kvManager libkv.KVManager, logSize int) *KVSink {
	if logSize <= 0 {
		logSize = DefaultLogSize
	}
	return &KVSink{kvManager: kvManager, logSize: int64(logSize)}
}

type Event struct {
	ID         string            `json:"id"`
	Operation  string            `json:"operation"`
	Subject    string            `json:"subject"`
	Start      time.Time         `json:"start"`
	End        *time.Time        `json:"end,omitempty"`
	Error      *string           `json:"error,omitempty"`
	EntityID   *string           `json:"entityID,omitempty"`
	EntityData any               `json:"entityData,omitempty"`
	Duration   float64           `json:"duration"` // milliseconds
	Metadata   map[string]string `json:"metadata,omitempty"`
	RequestID  string            `json:"requestID,omitempty"`
	TraceID    string            `json:"traceID,omitempty"`
}

type Operation struct {
	Operation string `json:"operation"`
	Subject   string `json:"subject"`
}

func (t *KVSink) Start(
	ctx context.Context,
	operation string,
	subject string,
	kvArgs ...any,
) (func(error), func(string, any), func()) {
	startTime := time.Now().UTC()
	event := &Event{
		ID:        uuid.NewString(),
		Operation: operation,
		Subject:   subject,
		Start:     startTime,
		Metadata:  extractMetadata(kvArgs...),
		RequestID: libtracker.RequestIDFrom(ctx),
		TraceID:   libtracker.TraceIDFrom(ctx),
	}

	reportErr := func(err error) {
		if err != nil {
			errStr := err.Error()
			event.Error = &errStr
		}
	}
	reportChange := func(id string, data any) {
		event.EntityID = &id
		event.EntityData = data
	}
	end := func() {
		now := time.Now().UTC()
		event.End = &now
		event.Duration = float64(now.Sub(startTime)) / float64(time.Millisecond)
		// The run context may already be cancelled when the operation ends.
		t.store(context.WithoutCancel(ctx), event)
	}
	return reportErr, reportChange, end
}

func (t *KVSink) store(ctx context.Context, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("SERVERBUG: Failed to marshal activity event: %v", err)
		return
	}
	kv, err := t.kvManager.Executor(ctx)
	if err != nil {
		log.Printf("SERVERBUG: Failed to get KV executor: %v", err)
		return
	}

	if err := kv.ListPush(ctx, logKey, data); err != nil {
		log.Printf("SERVERBUG: Failed to push activity event: %v", err)
	}
	if err := kv.ListTrim(ctx, logKey, 0, t.logSize-1); err != nil {
		log.Printf("SERVERBUG: Failed to trim activity log: %v", err)
	}

	opData, err := json.Marshal(Operation{Operation: event.Operation, Subject: event.Subject})
	if err == nil {
		if err := kv.SetAdd(ctx, operationsKey, opData); err != nil {
			log.Printf("SERVERBUG: Failed to track operation: %v", err)
		}
	}

	if event.TraceID == "" {
		return
	}
	if err := kv.ListPush(ctx, tracePrefix+event.TraceID, data); err != nil {
		log.Printf("SERVERBUG: Failed to push trace event: %v", err)
	}
	traceRef, _ := json.Marshal(event.TraceID)
	if err := kv.SetAdd(ctx, tracesKey, traceRef); err != nil {
		log.Printf("SERVERBUG: Failed to track trace id: %v", err)
	}
}

func extractMetadata(args ...any) map[string]string {
	meta := make(map[string]string)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		switch v := args[i+1].(type) {
		case string:
			meta[key] = v
		case fmt.Stringer:
			meta[key] = v.String()
		case int, int64, bool, float64:
			meta[key] = fmt.Sprint(v)
		}
	}
	return meta
}

// RecentEvents returns up to limit events, newest first.
func (t *KVSink) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	kv, err := t.kvManager.Executor(ctx)
	if err != nil {
		return nil, err
	}
	rawItems, err := kv.ListRange(ctx, logKey, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	return decodeEvents(rawItems), nil
}

// TraceEvents returns the events of one run in the order they ended.
func (t *KVSink) TraceEvents(ctx context.Context, traceID string) ([]Event, error) {
	if traceID == "" {
		return nil, nil
	}
	kv, err := t.kvManager.Executor(ctx)
	if err != nil {
		return nil, err
	}
	rawItems, err := kv.ListRange(ctx, tracePrefix+traceID, 0, -1)
	if err != nil {
		return nil, err
	}
	events := decodeEvents(rawItems)
	slices.Reverse(events)
	return events, nil
}

// Traces lists every trace id with stored events, sorted.
func (t *KVSink) Traces(ctx context.Context) ([]string, error) {
	kv, err := t.kvManager.Executor(ctx)
	if err != nil {
		return nil, err
	}
	rawItems, err := kv.SetMembers(ctx, tracesKey)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rawItems))
	for _, raw := range rawItems {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("SERVERBUG: Failed to unmarshal trace id: %w", err)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (t *KVSink) KnownOperations(ctx context.Context) ([]Operation, error) {
	kv, err := t.kvManager.Executor(ctx)
	if err != nil {
		return nil, err
	}
	rawItems, err := kv.SetMembers(ctx, operationsKey)
	if err != nil {
		return nil, err
	}
	var results []Operation
	for _, raw := range rawItems {
		var op Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, err
		}
		results = append(results, op)
	}
	slices.SortFunc(results, func(a, b Operation) int {
		if a.Operation != b.Operation {
			if a.Operation < b.Operation {
				return -1
			}
			return 1
		}
		switch {
		case a.Subject < b.Subject:
			return -1
		case a.Subject > b.Subject:
			return 1
		}
		return 0
	})
	return results, nil
}

func decodeEvents(rawItems []json.RawMessage) []Event {
	events := make([]Event, 0, len(rawItems))
	for _, raw := range rawItems {
		var evt Event
		if err := json.Unmarshal(raw, &evt); err == nil {
			events = append(events, evt)
		}
	}
	return events
}

var _ libtracker.ActivityTracker = (*KVSink)(nil)
