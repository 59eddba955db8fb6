package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"datebook/internal/api"
	"datebook/internal/event"
	"datebook/internal/storage"
	"datebook/internal/store"
)

func newServer(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	backend, err := storage.NewDirBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirBackend: %v", err)
	}
	sm := storage.New(backend, "calendar_events", storage.Options{})
	st, warnings := store.New(sm)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	return api.New(st, sm), st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndFetchEvent(t *testing.T) {
	h, _ := newServer(t)

	rec := do(t, h, "POST", "/v1/events",
		`{"title":"Standup","date":"2025-03-10","startTime":"09:00","endTime":"09:15","category":"work"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var created event.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = do(t, h, "GET", "/v1/events/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = do(t, h, "GET", "/v1/events?date=2025-03-10", "")
	var day []event.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &day); err != nil {
		t.Fatalf("decode day: %v", err)
	}
	if len(day) != 1 || day[0].Title != "Standup" {
		t.Errorf("expected one Standup on 2025-03-10, got %v", day)
	}
}

func TestCreate_ValidationFailureReturnsMessages(t *testing.T) {
	h, st := newServer(t)

	rec := do(t, h, "POST", "/v1/events", `{"title":"","date":"2025-03-10"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp struct {
		Error    string   `json:"error"`
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0] != "Event title is required" {
		t.Errorf("unexpected messages %v", resp.Messages)
	}
	if len(st.GetAll()) != 0 {
		t.Error("failed create must not mutate the store")
	}
}

func TestPatch_UnknownFieldRejected(t *testing.T) {
	h, st := newServer(t)
	e, err := st.Create(event.Event{Title: "Standup", Date: "2025-03-10"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := do(t, h, "PATCH", "/v1/events/"+e.ID, `{"id":"sneaky"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field should 400, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, h, "PATCH", "/v1/events/"+e.ID, `{"title":"Retro"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	got, err := st.GetByID(e.ID)
	if err != nil || got.Title != "Retro" {
		t.Errorf("patch not applied: %+v, %v", got, err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	h, _ := newServer(t)
	rec := do(t, h, "DELETE", "/v1/events/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRangeFilterAndStats(t *testing.T) {
	h, st := newServer(t)
	seed := []event.Event{
		{Title: "A", Date: "2025-03-10", StartTime: "14:00", Category: "work"},
		{Title: "B", Date: "2025-03-10", StartTime: "09:00", Category: "work"},
		{Title: "C", Date: "2025-03-12", Category: "health"},
	}
	for _, raw := range seed {
		if _, err := st.Create(raw); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := do(t, h, "GET", "/v1/events?from=2025-03-10&to=2025-03-12", "")
	var events []event.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 3 || events[0].Title != "B" || events[1].Title != "A" || events[2].Title != "C" {
		t.Errorf("wrong range order: %v", events)
	}

	rec = do(t, h, "GET", "/v1/events?from=yesterday&to=2025-03-12", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad range key should 400, got %d", rec.Code)
	}

	rec = do(t, h, "GET", "/v1/stats", "")
	var stats store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalEvents != 3 || stats.DatesWithEvents != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestExportImportEndpoints(t *testing.T) {
	h, st := newServer(t)
	if _, err := st.Create(event.Event{Title: "Standup", Date: "2025-03-10"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := do(t, h, "GET", "/v1/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}

	h2, st2 := newServer(t)
	rec2 := do(t, h2, "POST", "/v1/import", rec.Body.String())
	if rec2.Code != http.StatusOK {
		t.Fatalf("import: %d: %s", rec2.Code, rec2.Body)
	}
	var res store.ImportResult
	if err := json.Unmarshal(rec2.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Imported != 1 || len(res.Errors) != 0 {
		t.Errorf("import result %+v", res)
	}
	if len(st2.GetAll()) != 1 {
		t.Errorf("expected 1 event after import, got %d", len(st2.GetAll()))
	}
}

func TestICSExportEndpoint(t *testing.T) {
	h, st := newServer(t)
	if _, err := st.Create(event.Event{Title: "Standup", Date: "2025-03-10", StartTime: "09:00"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := do(t, h, "GET", "/v1/export.ics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export.ics: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "SUMMARY:Standup") {
		t.Error("ICS payload missing event")
	}
}

func TestBackupRestoreFlow(t *testing.T) {
	h, st := newServer(t)
	if _, err := st.Create(event.Event{Title: "Standup", Date: "2025-03-10"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := do(t, h, "GET", "/v1/backup", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("backup: %d: %s", rec.Code, rec.Body)
	}
	backup := rec.Body.String()

	if err := st.Delete(st.GetAll()[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rec = do(t, h, "POST", "/v1/restore", backup)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: %d: %s", rec.Code, rec.Body)
	}
	if len(st.GetAll()) != 1 {
		t.Errorf("expected event restored into the running store, got %d", len(st.GetAll()))
	}

	rec = do(t, h, "POST", "/v1/restore", "not a backup")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed restore should 400, got %d", rec.Code)
	}

	junk := `{"data":42,"backupDate":"2025-01-01T00:00:00Z","version":"1.0"}`
	rec = do(t, h, "POST", "/v1/restore", junk)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("junk payload restore should 400, got %d", rec.Code)
	}
	if len(st.GetAll()) != 1 {
		t.Errorf("junk payload restore must not touch the running store, got %d events", len(st.GetAll()))
	}
}

func TestHealthAndReadiness(t *testing.T) {
	h, _ := newServer(t)
	if rec := do(t, h, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz: %d", rec.Code)
	}

	// Without durable storage the server still serves, but reports not ready.
	sm := storage.New(nil, "calendar_events", storage.Options{})
	st, _ := store.New(sm)
	degraded := api.New(st, sm)
	if rec := do(t, degraded, "GET", "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded readyz: expected 503, got %d", rec.Code)
	}
}
