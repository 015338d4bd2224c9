package escrow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"escrow-backend/core/escrow"
)

const maxEvents = 200

// EventFeed is a ledger observer keeping a bounded, newest-first activity log
// and fanning events out to streaming listeners.
type EventFeed struct {
	eventsMu    sync.Mutex
	events      []escrow.Event
	listenersMu sync.Mutex
	listeners   []chan escrow.Event
}

// NewEventFeed returns an empty feed.
func NewEventFeed() *EventFeed {
	return &EventFeed{}
}

func (f *EventFeed) Committed(op escrow.Op, caller escrow.Identity, t escrow.Task, tr *escrow.Transfer) {
	evt := escrow.Event{
		Type:   string(op),
		TaskID: t.ID,
		Actor:  caller,
	}
	if tr != nil {
		evt.Amount = tr.Amount
		evt.Message = fmt.Sprintf("%s %d to %s", tr.Kind, tr.Amount, tr.To)
	} else {
		evt.Message = "task is " + t.Status.String()
	}
	f.recordEvent(evt)
}

func (f *EventFeed) Rejected(op escrow.Op, caller escrow.Identity, id escrow.TaskID, err error) {
	f.recordEvent(escrow.Event{
		Type:    "reject",
		TaskID:  id,
		Actor:   caller,
		Message: fmt.Sprintf("%s: %s", op, escrow.Code(err)),
	})
}

// Recent returns up to limit events, newest first. A limit of zero returns all.
func (f *EventFeed) Recent(limit int) []escrow.Event {
	f.eventsMu.Lock()
	defer f.eventsMu.Unlock()
	n := len(f.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]escrow.Event, n)
	copy(out, f.events)
	return out
}

// recordEvent appends an event to the in-memory log with a small bounded buffer.
func (f *EventFeed) recordEvent(evt escrow.Event) {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	f.eventsMu.Lock()
	f.events = append([]escrow.Event{evt}, f.events...)
	if len(f.events) > maxEvents {
		f.events = f.events[:maxEvents]
	}
	f.eventsMu.Unlock()
	f.broadcastEvent(evt)
}

// broadcastEvent pushes an event to connected listeners without blocking.
func (f *EventFeed) broadcastEvent(evt escrow.Event) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	for _, ch := range f.listeners {
		select {
		case ch <- evt:
		default:
			// drop if slow consumer
		}
	}
}

func (f *EventFeed) addListener() chan escrow.Event {
	ch := make(chan escrow.Event, 10)
	f.listenersMu.Lock()
	f.listeners = append(f.listeners, ch)
	f.listenersMu.Unlock()
	return ch
}

func (f *EventFeed) removeListener(ch chan escrow.Event) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	for i, c := range f.listeners {
		if c == ch {
			close(c)
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			break
		}
	}
}

type eventFilter struct {
	typ    string
	actor  string
	taskID escrow.TaskID
}

func eventFilterFrom(r *http.Request) eventFilter {
	q := r.URL.Query()
	f := eventFilter{
		typ:   strings.TrimSpace(q.Get("type")),
		actor: strings.TrimSpace(q.Get("actor")),
	}
	if raw := q.Get("task_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			f.taskID = escrow.TaskID(id)
		}
	}
	return f
}

func (f eventFilter) matches(evt escrow.Event) bool {
	if f.typ != "" && !strings.EqualFold(evt.Type, f.typ) {
		return false
	}
	if f.actor != "" && !strings.EqualFold(string(evt.Actor), f.actor) {
		return false
	}
	if f.taskID != 0 && evt.TaskID != f.taskID {
		return false
	}
	return true
}

// ServeHTTP lists recent events, or streams them when the client accepts
// text/event-stream.
func (f *EventFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	filter := eventFilterFrom(r)

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		f.stream(w, r, filter)
		return
	}

	limit := intFromQuery(r, "limit", 50)
	if limit < 0 {
		limit = 0
	}
	events := f.Recent(0)
	filtered := make([]escrow.Event, 0, len(events))
	for _, evt := range events {
		if filter.matches(evt) {
			filtered = append(filtered, evt)
		}
	}
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"events": filtered,
		"total":  len(filtered),
	})
}

func (f *EventFeed) stream(w http.ResponseWriter, r *http.Request, filter eventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, escrow.CodeInternal, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := f.addListener()
	defer f.removeListener(ch)

	initial := f.Recent(0)
	for i := len(initial) - 1; i >= 0; i-- { // oldest first
		if filter.matches(initial[i]) {
			writeSSE(w, initial[i])
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if !filter.matches(evt) {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt escrow.Event) {
	b, _ := json.Marshal(evt)
	fmt.Fprintf(w, "event: escrow\ndata: %s\n\n", b)
}
