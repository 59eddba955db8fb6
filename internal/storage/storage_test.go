package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datebook/internal/storage"
)

func newManager(t *testing.T, opts storage.Options) (*storage.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.NewDirBackend(dir)
	if err != nil {
		t.Fatalf("NewDirBackend: %v", err)
	}
	return storage.New(backend, "calendar_events", opts), dir
}

type payload struct {
	Name string `json:"name"`
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	m, _ := newManager(t, storage.Options{})
	if !m.Supported() {
		t.Fatal("probe should succeed on a temp dir")
	}

	if err := m.Save(payload{Name: "march"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var got payload
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != "march" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoad_AbsentReturnsNil(t *testing.T) {
	m, _ := newManager(t, storage.Options{})
	raw, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if raw != nil {
		t.Errorf("expected nil for absent data, got %q", raw)
	}
}

func TestSave_WritesEnvelopeAndVersionMarker(t *testing.T) {
	m, dir := newManager(t, storage.Options{})
	if err := m.Save(payload{Name: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "calendar_events.json"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("stored bytes are not JSON: %v", err)
	}
	for _, field := range []string{"data", "timestamp", "version"} {
		if _, ok := env[field]; !ok {
			t.Errorf("envelope missing %q", field)
		}
	}

	marker, err := os.ReadFile(filepath.Join(dir, "calendar_events_version.json"))
	if err != nil {
		t.Fatalf("read version marker: %v", err)
	}
	if string(marker) != storage.Version {
		t.Errorf("version marker = %q, want %q", marker, storage.Version)
	}
}

func TestLoad_CorruptBytesPreservedByDefault(t *testing.T) {
	m, dir := newManager(t, storage.Options{})
	path := filepath.Join(dir, "calendar_events.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("plant corrupt bytes: %v", err)
	}

	raw, err := m.Load()
	if err != nil {
		t.Fatalf("corrupt data must not surface an error, got %v", err)
	}
	if raw != nil {
		t.Errorf("expected absent result, got %q", raw)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default policy must preserve corrupt bytes: %v", err)
	}
}

func TestLoad_CorruptBytesClearedUnderClearPolicy(t *testing.T) {
	m, dir := newManager(t, storage.Options{Policy: storage.PolicyClear})
	path := filepath.Join(dir, "calendar_events.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("plant corrupt bytes: %v", err)
	}

	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("clear policy should remove the corrupt entry")
	}
}

func TestLoad_CorruptionCallbackWins(t *testing.T) {
	var seen []byte
	m, dir := newManager(t, storage.Options{
		Policy:       storage.PolicyClear,
		OnCorruption: func(raw []byte) bool { seen = raw; return false },
	})
	path := filepath.Join(dir, "calendar_events.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("plant corrupt bytes: %v", err)
	}

	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(seen) != "garbage" {
		t.Errorf("callback did not receive the corrupt bytes: %q", seen)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("callback returned false, bytes must be preserved")
	}
}

func TestLoad_IncompleteEnvelopeIsCorrupt(t *testing.T) {
	m, dir := newManager(t, storage.Options{})
	// Valid JSON but missing timestamp and version.
	if err := os.WriteFile(filepath.Join(dir, "calendar_events.json"), []byte(`{"data":{}}`), 0o600); err != nil {
		t.Fatalf("plant envelope: %v", err)
	}
	raw, err := m.Load()
	if err != nil || raw != nil {
		t.Errorf("incomplete envelope should read as absent, got %q, %v", raw, err)
	}
}

func TestClear_RemovesDataAndMarker(t *testing.T) {
	m, dir := newManager(t, storage.Options{})
	if err := m.Save(payload{Name: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, name := range []string{"calendar_events.json", "calendar_events_version.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s should be gone", name)
		}
	}
}

func TestGetInfo(t *testing.T) {
	m, _ := newManager(t, storage.Options{})
	if err := m.Save(payload{Name: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info := m.GetInfo()
	if !info.Supported {
		t.Error("expected supported")
	}
	if info.DataSize == 0 {
		t.Error("expected non-zero data size")
	}
	if info.KeyCount != 2 { // data + version marker
		t.Errorf("expected 2 keys, got %d", info.KeyCount)
	}
	if info.TotalSize < info.DataSize {
		t.Errorf("total %d smaller than data %d", info.TotalSize, info.DataSize)
	}
}

func TestBackup_RoundTrip(t *testing.T) {
	m, _ := newManager(t, storage.Options{})
	if err := m.Save(payload{Name: "march"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	backup, err := m.CreateBackup()
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	for _, field := range []string{`"data"`, `"backupDate"`, `"version"`} {
		if !strings.Contains(backup, field) {
			t.Errorf("backup missing %s", field)
		}
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := m.RestoreFromBackup(backup); err != nil {
		t.Fatalf("RestoreFromBackup: %v", err)
	}

	raw, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var got payload
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != "march" {
		t.Errorf("restored payload mismatch: %+v", got)
	}
}

func TestRestoreFromBackup_MalformedMutatesNothing(t *testing.T) {
	m, _ := newManager(t, storage.Options{})
	if err := m.Save(payload{Name: "keep"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for _, input := range []string{
		"not json",
		`{"backupDate":"2025-01-01T00:00:00Z","version":"1.0"}`,
		`{"data":{},"version":"1.0"}`,
		`{"data":{},"backupDate":"2025-01-01T00:00:00Z"}`,
		`{"data":42,"backupDate":"2025-01-01T00:00:00Z","version":"1.0"}`,
		`{"data":["junk"],"backupDate":"2025-01-01T00:00:00Z","version":"1.0"}`,
	} {
		err := m.RestoreFromBackup(input)
		var mbe *storage.MalformedBackupError
		if !errors.As(err, &mbe) {
			t.Errorf("input %q: expected MalformedBackupError, got %v", input, err)
		}
	}

	raw, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var got payload
	if err := json.Unmarshal(raw, &got); err != nil || got.Name != "keep" {
		t.Errorf("stored data changed by malformed restore: %q, %v", raw, err)
	}
}

func TestWriteAndImportBackupFile(t *testing.T) {
	m, _ := newManager(t, storage.Options{})
	if err := m.Save(payload{Name: "march"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	backupDir := t.TempDir()
	path, err := m.WriteBackupFile(backupDir)
	if err != nil {
		t.Fatalf("WriteBackupFile: %v", err)
	}
	if filepath.Ext(path) != ".json" {
		t.Errorf("unexpected artifact name %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer f.Close()

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := m.ImportBackupFile(context.Background(), f); err != nil {
		t.Fatalf("ImportBackupFile: %v", err)
	}
	raw, err := m.Load()
	if err != nil || raw == nil {
		t.Fatalf("Load after import: %q, %v", raw, err)
	}
}

func TestUnsupportedManagerDegrades(t *testing.T) {
	m := storage.New(nil, "calendar_events", storage.Options{})
	if m.Supported() {
		t.Fatal("nil backend must probe as unsupported")
	}
	if err := m.Save(payload{}); !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Errorf("Save: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := m.Load(); !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Errorf("Load: expected ErrStorageUnavailable, got %v", err)
	}
	if err := m.Clear(); !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Errorf("Clear: expected ErrStorageUnavailable, got %v", err)
	}
	if info := m.GetInfo(); info.Supported {
		t.Error("GetInfo must report unsupported")
	}
}
