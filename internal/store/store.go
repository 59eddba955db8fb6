// Package store owns the canonical event collection and its date index, and
// is the only component allowed to mutate either. Every command validates
// before committing; persistence is a best-effort write-through side effect.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"datebook/internal/datekey"
	"datebook/internal/event"
	"datebook/internal/metrics"
)

// Adapter persists the exported event set between sessions. Load returns
// (nil, nil) when nothing usable is stored.
type Adapter interface {
	Save(v interface{}) error
	Load() ([]byte, error)
}

// Export is the serialized shape of the whole store.
type Export struct {
	Events     []*event.Event `json:"events"`
	ExportDate string         `json:"exportDate"`
}

// ImportResult reports a best-effort bulk import: valid records are inserted,
// invalid ones are skipped and listed by 1-based position.
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// Stats summarizes the store for the UI's statistics panel.
type Stats struct {
	TotalEvents     int            `json:"totalEvents"`
	CategoryCounts  map[string]int `json:"categoryCounts"`
	DatesWithEvents int            `json:"datesWithEvents"`
}

// Store holds the event map and a derived per-day index. The index buckets
// are kept sorted by start time ascending with all-day (time-less) events
// first, never contain duplicate ids, and are deleted when they empty out.
type Store struct {
	mu      sync.RWMutex
	events  map[string]*event.Event
	byDate  map[string][]*event.Event
	adapter Adapter
}

// New creates a Store and, when an adapter is configured, loads whatever it
// has persisted. Per-record load problems are returned as warnings, never as
// a failure: a corrupt record must not take the calendar down.
func New(adapter Adapter) (*Store, []string) {
	s := &Store{
		events:  make(map[string]*event.Event),
		byDate:  make(map[string][]*event.Event),
		adapter: adapter,
	}
	var warnings []string
	if adapter != nil {
		raw, err := adapter.Load()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("load persisted events: %s", err))
		} else if raw != nil {
			var data Export
			if err := json.Unmarshal(raw, &data); err != nil {
				warnings = append(warnings, fmt.Sprintf("decode persisted events: %s", err))
			} else {
				res := s.importLocked(&data, false)
				warnings = append(warnings, res.Errors...)
			}
		}
	}
	metrics.StoreEvents.Set(float64(len(s.events)))
	return s, warnings
}

// Create validates and inserts a new event. On validation failure nothing is
// mutated and the returned error carries every violated rule.
func (s *Store) Create(raw event.Event) (*event.Event, error) {
	e := event.New(raw)
	if errs := e.Validate(); len(errs) > 0 {
		metrics.ValidationFailures.Inc()
		return nil, &ValidationError{Errors: errs}
	}

	s.mu.Lock()
	s.upsertLocked(e)
	s.persistLocked()
	s.mu.Unlock()

	metrics.EventsCreated.Inc()
	return e.Clone(), nil
}

// GetByID returns a copy of the event with the given id.
func (s *Store) GetByID(id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return e.Clone(), nil
}

// GetAll returns copies of every event in unspecified order.
func (s *Store) GetAll() []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*event.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Clone())
	}
	return out
}

// GetByDate returns the events on one day, ordered by start time with
// all-day events first. Unknown or malformed keys yield an empty slice.
func (s *Store) GetByDate(dateKey string) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.byDate[dateKey])
}

// GetByDateRange walks every calendar day from start to end inclusive and
// concatenates each day's ordered bucket.
func (s *Store) GetByDateRange(start, end string) ([]*event.Event, error) {
	keys, err := datekey.Range(start, end)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*event.Event
	for _, k := range keys {
		out = append(out, cloneAll(s.byDate[k])...)
	}
	return out, nil
}

// Update applies a partial update transactionally: the patched copy is
// validated first and the stored event is only replaced on success. A date
// change moves the event between index buckets.
func (s *Store) Update(id string, p event.Patch) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	next := cur.Clone()
	next.Apply(p)
	if errs := next.Validate(); len(errs) > 0 {
		metrics.ValidationFailures.Inc()
		return nil, &ValidationError{Errors: errs}
	}

	s.deindexLocked(cur)
	s.events[id] = next
	s.indexLocked(next)
	s.persistLocked()

	metrics.EventsUpdated.Inc()
	return next.Clone(), nil
}

// Delete removes an event from the map and its date bucket, pruning the
// bucket if it empties.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	s.deindexLocked(e)
	delete(s.events, id)
	s.persistLocked()

	metrics.EventsDeleted.Inc()
	metrics.StoreEvents.Set(float64(len(s.events)))
	return nil
}

// Search returns events whose title or description contains query,
// case-insensitively.
func (s *Store) Search(query string) []*event.Event {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*event.Event
	for _, e := range s.events {
		if strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.Description), q) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// GetByCategory returns events with an exact category match.
func (s *Store) GetByCategory(category string) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*event.Event
	for _, e := range s.events {
		if e.Category == category {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Statistics counts events, events per category and non-empty days.
func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		TotalEvents:     len(s.events),
		CategoryCounts:  make(map[string]int),
		DatesWithEvents: len(s.byDate),
	}
	for _, e := range s.events {
		st.CategoryCounts[e.Category]++
	}
	return st
}

// ExportJSON snapshots every event for download or persistence.
func (s *Store) ExportJSON() *Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked()
}

// ImportJSON inserts each record independently, overwriting events that share
// an id. One bad record skips that record only; the rest of the batch still
// lands.
func (s *Store) ImportJSON(data *Export) ImportResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importLocked(data, true)
}

// Reload discards the in-memory state and rebuilds it from whatever the
// adapter currently holds, e.g. after a backup restore replaced the persisted
// envelope underneath a running session.
func (s *Store) Reload() ([]string, error) {
	if s.adapter == nil {
		return nil, fmt.Errorf("no persistence adapter configured")
	}
	raw, err := s.adapter.Load()
	if err != nil {
		return nil, err
	}

	// Decode before touching the maps so a bad payload leaves the
	// current session intact.
	var data *Export
	if raw != nil {
		data = &Export{}
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("decode persisted events: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]*event.Event)
	s.byDate = make(map[string][]*event.Event)

	var warnings []string
	if data != nil {
		res := s.importLocked(data, false)
		warnings = res.Errors
	}
	metrics.StoreEvents.Set(float64(len(s.events)))
	return warnings, nil
}

func (s *Store) importLocked(data *Export, persist bool) ImportResult {
	var res ImportResult
	if data == nil {
		res.Errors = append(res.Errors, "import payload is empty")
		return res
	}
	for i, rec := range data.Events {
		if rec == nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Event %d: empty record", i+1))
			continue
		}
		e := event.New(*rec)
		if errs := e.Validate(); len(errs) > 0 {
			metrics.ValidationFailures.Inc()
			res.Errors = append(res.Errors, fmt.Sprintf("Event %d: %s", i+1, strings.Join(errs, ", ")))
			continue
		}
		s.upsertLocked(e)
		res.Imported++
	}
	if persist && res.Imported > 0 {
		s.persistLocked()
	}
	if res.Imported > 0 {
		metrics.EventsImported.Add(float64(res.Imported))
	}
	metrics.StoreEvents.Set(float64(len(s.events)))
	return res
}

// upsertLocked inserts e, first removing any existing event with the same id
// so the date index never holds duplicates.
func (s *Store) upsertLocked(e *event.Event) {
	if prev, ok := s.events[e.ID]; ok {
		s.deindexLocked(prev)
	}
	s.events[e.ID] = e
	s.indexLocked(e)
	metrics.StoreEvents.Set(float64(len(s.events)))
}

func (s *Store) indexLocked(e *event.Event) {
	bucket := append(s.byDate[e.Date], e)
	// The empty string sorts before any HH:MM value, which puts all-day
	// events first; stable sort preserves insertion order on ties.
	sort.SliceStable(bucket, func(i, j int) bool {
		return bucket[i].StartTime < bucket[j].StartTime
	})
	s.byDate[e.Date] = bucket
}

func (s *Store) deindexLocked(e *event.Event) {
	bucket := s.byDate[e.Date]
	for i, other := range bucket {
		if other.ID == e.ID {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(s.byDate, e.Date)
		return
	}
	s.byDate[e.Date] = bucket
}

func (s *Store) exportLocked() *Export {
	out := &Export{
		Events:     make([]*event.Event, 0, len(s.events)),
		ExportDate: event.Now(),
	}
	for _, e := range s.events {
		out.Events = append(out.Events, e.Clone())
	}
	return out
}

// persistLocked writes through to the adapter. The in-memory state is
// authoritative for the session, so a failed save is logged and counted but
// never rolls the mutation back.
func (s *Store) persistLocked() {
	if s.adapter == nil {
		return
	}
	if err := s.adapter.Save(s.exportLocked()); err != nil {
		metrics.StoreSaves.WithLabelValues("error").Inc()
		slog.Warn("event persistence failed; changes apply to this session only", "err", err)
		return
	}
	metrics.StoreSaves.WithLabelValues("success").Inc()
}

func cloneAll(events []*event.Event) []*event.Event {
	out := make([]*event.Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}
