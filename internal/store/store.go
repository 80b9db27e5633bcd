package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tidy1/TidyTapBit/internal/core"
	"github.com/Tidy1/TidyTapBit/internal/ladder"
)

// LadderState is the durable snapshot of one symbol's ladder.
type LadderState struct {
	Symbol     string          `json:"symbol"`
	SnapshotID string          `json:"snapshot_id,omitempty"`
	Center     decimal.Decimal `json:"center"`
	Spacing    decimal.Decimal `json:"spacing"`
	Rungs      []ladder.Rung   `json:"rungs"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type OpenOrdersSnapshot struct {
	SnapshotID string           `json:"snapshot_id,omitempty"`
	Orders     []core.GridOrder `json:"orders"`
	UpdatedAt  time.Time        `json:"updated_at,omitempty"`
}

// FillRecord is one fill/cancel event appended to the daily journal.
type FillRecord struct {
	OrderID string           `json:"order_id"`
	Symbol  string           `json:"symbol"`
	Side    core.Side        `json:"side"`
	Price   decimal.Decimal  `json:"price"`
	Qty     decimal.Decimal  `json:"qty"`
	Event   core.OrderStatus `json:"event"`
	Time    time.Time        `json:"time"`
}

type FillLedgerEntry struct {
	Key    string    `json:"key"`
	SeenAt time.Time `json:"seen_at"`
}

type RuntimeStatus struct {
	Mode              string     `json:"mode"`
	Symbols           []string   `json:"symbols"`
	InstanceID        string     `json:"instance_id"`
	PID               int        `json:"pid"`
	State             string     `json:"state"`
	StartedAt         time.Time  `json:"started_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastError         string     `json:"last_error,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts,omitempty"`
	DisconnectedAt    *time.Time `json:"disconnected_at,omitempty"`
}

// Persister is the durability capability the manager needs.
type Persister interface {
	SaveLadderState(state LadderState) error
	SaveOpenOrders(orders []core.GridOrder) error
	AppendFill(fill FillRecord) error
}

// Store persists snapshots as JSON files under one root directory. Writes go
// through a temp file plus rename so a crash never leaves a torn snapshot.
type Store struct {
	root              string
	logger            *zap.Logger
	mu                sync.Mutex
	fillLedgerLoaded  bool
	fillLedger        map[string]struct{}
	fillLedgerEntries []FillLedgerEntry
}

const (
	fillLedgerMaxEntries    = 10000
	fillLedgerTrimToEntries = 8000
)

func New(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: root, logger: logger}, nil
}

func (s *Store) SaveLadderState(state LadderState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	state.SnapshotID = strings.TrimSpace(state.SnapshotID)
	if state.SnapshotID == "" {
		state.SnapshotID = newSnapshotID(state.UpdatedAt)
	}
	if state.Rungs == nil {
		state.Rungs = make([]ladder.Rung, 0)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSONAtomic(s.ladderPath(state.Symbol), state)
}

func (s *Store) LoadLadderState(symbol string) (LadderState, bool, error) {
	data, err := os.ReadFile(s.ladderPath(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return LadderState{}, false, nil
		}
		return LadderState{}, false, err
	}
	var state LadderState
	if err := json.Unmarshal(data, &state); err != nil {
		return LadderState{}, false, err
	}
	return state, true, nil
}

func (s *Store) SaveOpenOrders(orders []core.GridOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	payload := OpenOrdersSnapshot{
		SnapshotID: newSnapshotID(now),
		Orders:     orders,
		UpdatedAt:  now,
	}
	if payload.Orders == nil {
		payload.Orders = make([]core.GridOrder, 0)
	}
	return s.writeJSONAtomic(s.ordersPath(), payload)
}

func (s *Store) LoadOpenOrders() ([]core.GridOrder, bool, error) {
	data, err := os.ReadFile(s.ordersPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, errors.New("open orders snapshot is empty")
	}
	var snapshot OpenOrdersSnapshot
	if err := json.Unmarshal(trimmed, &snapshot); err != nil {
		return nil, false, err
	}
	if snapshot.Orders == nil {
		snapshot.Orders = make([]core.GridOrder, 0)
	}
	return snapshot.Orders, true, nil
}

func (s *Store) SaveRuntimeStatus(status RuntimeStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSONAtomic(s.runtimeStatusPath(), status)
}

func (s *Store) LoadRuntimeStatus() (RuntimeStatus, bool, error) {
	data, err := os.ReadFile(s.runtimeStatusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeStatus{}, false, nil
		}
		return RuntimeStatus{}, false, err
	}
	var status RuntimeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RuntimeStatus{}, false, err
	}
	return status, true, nil
}

// AppendFill journals a fill event to the day's JSONL file.
func (s *Store) AppendFill(fill FillRecord) error {
	if fill.Time.IsZero() {
		fill.Time = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, "fills")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	date := fill.Time.UTC().Format("2006-01-02")
	path := filepath.Join(dir, date+".jsonl")
	data, err := json.Marshal(fill)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// HasFillKey reports whether the fill key has been recorded before. The
// manager uses it to drop duplicate order-update deliveries.
func (s *Store) HasFillKey(key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadFillLedgerLocked(); err != nil {
		return false, err
	}
	_, ok := s.fillLedger[key]
	return ok, nil
}

func (s *Store) RecordFillKey(key string, seenAt time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadFillLedgerLocked(); err != nil {
		return err
	}
	if _, ok := s.fillLedger[key]; ok {
		return nil
	}

	entry := FillLedgerEntry{
		Key:    key,
		SeenAt: seenAt.UTC(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	path := s.fillLedgerPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	s.fillLedger[key] = struct{}{}
	s.fillLedgerEntries = append(s.fillLedgerEntries, entry)
	if len(s.fillLedgerEntries) > fillLedgerMaxEntries {
		if err := s.trimFillLedgerLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) trimFillLedgerLocked() error {
	if len(s.fillLedgerEntries) <= fillLedgerMaxEntries {
		return nil
	}
	keep := fillLedgerTrimToEntries
	if keep < 1 || keep > fillLedgerMaxEntries {
		keep = fillLedgerMaxEntries
	}
	if keep > len(s.fillLedgerEntries) {
		keep = len(s.fillLedgerEntries)
	}
	start := len(s.fillLedgerEntries) - keep
	kept := append([]FillLedgerEntry(nil), s.fillLedgerEntries[start:]...)
	if err := s.writeJSONLinesAtomic(s.fillLedgerPath(), kept); err != nil {
		return err
	}
	s.fillLedgerEntries = kept
	s.fillLedger = make(map[string]struct{}, len(kept))
	for _, entry := range kept {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		s.fillLedger[key] = struct{}{}
	}
	return nil
}

func (s *Store) ladderPath(symbol string) string {
	name := "ladder.json"
	if symbol != "" {
		name = "ladder_" + strings.ToLower(symbol) + ".json"
	}
	return filepath.Join(s.root, name)
}

func (s *Store) ordersPath() string {
	return filepath.Join(s.root, "open_orders.json")
}

func (s *Store) runtimeStatusPath() string {
	return filepath.Join(s.root, "runtime_status.json")
}

func (s *Store) fillLedgerPath() string {
	return filepath.Join(s.root, "fill_ledger.jsonl")
}

func (s *Store) writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	s.fsyncDirBestEffort(dir, path)
	return nil
}

func (s *Store) writeJSONLinesAtomic(path string, entries []FillLedgerEntry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	s.fsyncDirBestEffort(dir, path)
	return nil
}

func (s *Store) fsyncDirBestEffort(dir, path string) {
	// Best-effort directory fsync to improve rename durability across crashes.
	d, err := os.Open(dir)
	if err != nil {
		s.logger.Warn("store dir fsync skipped",
			zap.String("dir", dir),
			zap.String("target", path),
			zap.Error(err))
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		s.logger.Warn("store dir fsync failed",
			zap.String("dir", dir),
			zap.String("target", path),
			zap.Error(err))
	}
}

func newSnapshotID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return strconv.FormatInt(now.UnixNano(), 36)
}

func (s *Store) loadFillLedgerLocked() error {
	if s.fillLedgerLoaded {
		return nil
	}
	s.fillLedger = make(map[string]struct{})
	s.fillLedgerEntries = make([]FillLedgerEntry, 0)
	path := s.fillLedgerPath()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.fillLedgerLoaded = true
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 2*1024*1024)
	loadedAt := time.Now().UTC()
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry FillLedgerEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		if _, ok := s.fillLedger[key]; ok {
			continue
		}
		entry.Key = key
		if entry.SeenAt.IsZero() {
			entry.SeenAt = loadedAt
		}
		s.fillLedger[key] = struct{}{}
		s.fillLedgerEntries = append(s.fillLedgerEntries, entry)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(s.fillLedgerEntries) > fillLedgerMaxEntries {
		if err := s.trimFillLedgerLocked(); err != nil {
			return err
		}
	}
	s.fillLedgerLoaded = true
	return nil
}
