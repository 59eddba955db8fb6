// Package storage persists the exported event set as a versioned, timestamped
// JSON envelope under one well-known key of a pluggable key-value backend.
// Every failure mode here is non-fatal: the store keeps running in memory and
// the Manager reports what it could not do.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Version is the envelope schema version written with every save.
const Version = "1.0"

// DefaultStalenessDays is the advisory age threshold flagged on load.
const DefaultStalenessDays = 30

const probeKey = "__probe"

// CorruptionPolicy decides what happens to stored bytes that fail to parse.
type CorruptionPolicy string

const (
	// PolicyPreserve keeps the corrupted bytes in place for manual
	// inspection and reports them. This is the default.
	PolicyPreserve CorruptionPolicy = "preserve"
	// PolicyClear deletes the corrupted entry so the next save starts clean.
	PolicyClear CorruptionPolicy = "clear"
)

// Options tunes Manager behavior. The zero value preserves corrupt data and
// uses the default staleness threshold.
type Options struct {
	Policy        CorruptionPolicy
	StalenessDays int
	// OnCorruption, if set, overrides Policy: it receives the corrupt bytes
	// and returns true to clear them.
	OnCorruption func(raw []byte) bool
}

// envelope is the persisted wire shape.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version"`
}

// backupEnvelope is the downloadable variant, with backupDate in place of
// timestamp.
type backupEnvelope struct {
	Data       json.RawMessage `json:"data"`
	BackupDate string          `json:"backupDate"`
	Version    string          `json:"version"`
}

// Info describes current storage usage.
type Info struct {
	DataSize  int  `json:"dataSize"`
	TotalSize int  `json:"totalSize"`
	KeyCount  int  `json:"keyCount"`
	Supported bool `json:"isSupported"`
}

// Manager wraps a Backend with envelope encoding, an availability probe,
// schema-version tracking and corruption recovery.
type Manager struct {
	backend    Backend
	key        string
	versionKey string
	supported  bool
	policy     CorruptionPolicy
	staleness  time.Duration
	onCorrupt  func([]byte) bool
}

// New probes the backend once with a sentinel write and records the result;
// when the probe fails every later operation degrades to a reported failure
// instead of panicking. It also initializes or checks the version marker.
func New(backend Backend, key string, opts Options) *Manager {
	m := &Manager{
		backend:    backend,
		key:        key,
		versionKey: key + "_version",
		policy:     opts.Policy,
		onCorrupt:  opts.OnCorruption,
	}
	if m.policy == "" {
		m.policy = PolicyPreserve
	}
	days := opts.StalenessDays
	if days <= 0 {
		days = DefaultStalenessDays
	}
	m.staleness = time.Duration(days) * 24 * time.Hour

	m.supported = m.probe()
	if !m.supported {
		slog.Warn("storage unavailable; events will not survive this session", "key", key)
		return m
	}
	m.checkVersion()
	return m
}

func (m *Manager) probe() bool {
	if m.backend == nil {
		return false
	}
	if err := m.backend.Set(probeKey, []byte("1")); err != nil {
		return false
	}
	if err := m.backend.Delete(probeKey); err != nil {
		return false
	}
	return true
}

// checkVersion initializes the version marker on first use and logs a
// migration hook point on mismatch. No migration runs in v1.
func (m *Manager) checkVersion() {
	raw, ok, err := m.backend.Get(m.versionKey)
	if err != nil {
		slog.Warn("storage version marker unreadable", "err", err)
		return
	}
	if !ok {
		if err := m.backend.Set(m.versionKey, []byte(Version)); err != nil {
			slog.Warn("storage version marker init failed", "err", err)
		}
		return
	}
	if stored := string(raw); stored != Version {
		slog.Warn("storage version mismatch; data kept as-is, no migration implemented",
			"stored", stored, "current", Version)
	}
}

// Supported reports the result of the construction-time probe.
func (m *Manager) Supported() bool { return m.supported }

// Save wraps v in a timestamped, versioned envelope and writes it. Quota
// failures log current usage and come back as a *QuotaError.
func (m *Manager) Save(v interface{}) error {
	if !m.supported {
		return ErrStorageUnavailable
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	raw, err := json.Marshal(envelope{Data: data, Timestamp: nowISO(), Version: Version})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := m.backend.Set(m.key, raw); err != nil {
		if isQuota(err) {
			qe := &QuotaError{Key: m.key, Size: len(raw), Err: err}
			m.logUsage(qe)
			return qe
		}
		return err
	}
	if err := m.backend.Set(m.versionKey, []byte(Version)); err != nil {
		slog.Warn("storage version marker write failed", "err", err)
	}
	return nil
}

// Load reads and unwraps the envelope. It returns (nil, nil) when nothing is
// stored, flags stale data without rejecting it, and routes unparsable bytes
// through the corruption policy before reporting them as absent.
func (m *Manager) Load() ([]byte, error) {
	if !m.supported {
		return nil, ErrStorageUnavailable
	}
	raw, ok, err := m.backend.Get(m.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.handleCorruption(raw, &CorruptDataError{Key: m.key, Err: err})
		return nil, nil
	}
	if len(env.Data) == 0 || env.Timestamp == "" || env.Version == "" {
		m.handleCorruption(raw, &CorruptDataError{Key: m.key, Err: errors.New("envelope missing data, timestamp or version")})
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, env.Timestamp); err == nil {
		if age := time.Since(ts); age > m.staleness {
			slog.Warn("stored events are stale", "age_days", int(age.Hours()/24), "saved_at", env.Timestamp)
		}
	}
	return env.Data, nil
}

func (m *Manager) handleCorruption(raw []byte, cause *CorruptDataError) {
	slog.Error("stored data is corrupt", "err", cause, "bytes", len(raw))
	wipe := m.policy == PolicyClear
	if m.onCorrupt != nil {
		wipe = m.onCorrupt(raw)
	}
	if !wipe {
		slog.Warn("corrupt data preserved for inspection", "key", m.key)
		return
	}
	if err := m.backend.Delete(m.key); err != nil {
		slog.Error("failed to clear corrupt data", "err", err)
		return
	}
	slog.Info("corrupt data cleared", "key", m.key)
}

// Clear removes both the data key and the version marker.
func (m *Manager) Clear() error {
	if !m.supported {
		return ErrStorageUnavailable
	}
	if err := m.backend.Delete(m.key); err != nil {
		return err
	}
	return m.backend.Delete(m.versionKey)
}

// GetInfo aggregates size and key counts across the backend.
func (m *Manager) GetInfo() Info {
	info := Info{Supported: m.supported}
	if !m.supported {
		return info
	}
	if raw, ok, err := m.backend.Get(m.key); err == nil && ok {
		info.DataSize = len(raw)
	}
	keys, err := m.backend.Keys()
	if err != nil {
		return info
	}
	info.KeyCount = len(keys)
	for _, k := range keys {
		if raw, ok, err := m.backend.Get(k); err == nil && ok {
			info.TotalSize += len(raw)
		}
	}
	return info
}

func (m *Manager) logUsage(qe *QuotaError) {
	info := m.GetInfo()
	slog.Error("storage quota exceeded", "err", qe.Err,
		"attempted_bytes", qe.Size, "total_bytes", info.TotalSize, "keys", info.KeyCount)
}

// CreateBackup serializes the currently stored payload as a pretty-printed
// backup envelope suitable for download.
func (m *Manager) CreateBackup() (string, error) {
	data, err := m.Load()
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", errors.New("nothing to back up")
	}
	out, err := json.MarshalIndent(backupEnvelope{
		Data:       data,
		BackupDate: nowISO(),
		Version:    Version,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	return string(out), nil
}

// RestoreFromBackup validates a backup envelope and saves its payload. A
// malformed input mutates nothing.
func (m *Manager) RestoreFromBackup(serialized string) error {
	var env backupEnvelope
	if err := json.Unmarshal([]byte(serialized), &env); err != nil {
		return &MalformedBackupError{Reason: err.Error()}
	}
	if len(env.Data) == 0 {
		return &MalformedBackupError{Reason: "missing data field"}
	}
	if env.BackupDate == "" {
		return &MalformedBackupError{Reason: "missing backupDate field"}
	}
	if env.Version == "" {
		return &MalformedBackupError{Reason: "missing version field"}
	}
	// The payload must at least be a JSON object; scalars and arrays would
	// overwrite a good envelope with junk no reader can decode.
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return &MalformedBackupError{Reason: "data field is not a JSON object"}
	}
	return m.Save(env.Data)
}

// WriteBackupFile writes a date-named backup artifact into dir and returns
// its path.
func (m *Manager) WriteBackupFile(dir string) (string, error) {
	backup, err := m.CreateBackup()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("datebook-backup-%s.json", time.Now().Format("2006-01-02"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(backup), 0o600); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}
	return path, nil
}

// ImportBackupFile reads an uploaded backup and restores it. The read honors
// ctx cancellation; a failed read restores nothing.
func (m *Manager) ImportBackupFile(ctx context.Context, r io.Reader) error {
	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- readResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("read backup: %w", res.err)
		}
		return m.RestoreFromBackup(string(res.data))
	}
}

func isQuota(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
