package iocache

import (
	"context"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
	"github.com/stretchr/testify/mock"
)

// MockStoreManager is a mock implementation of StoreManager for testing.
type MockStoreManager struct {
	mock.Mock
}

var _ contract.StoreManager = &MockStoreManager{} // Compile-time check

// GetSnapshotStore implements the StoreManager interface.
func (m *MockStoreManager) GetSnapshotStore() contract.SnapshotStore {
	ret := m.Called()
	store, _ := ret.Get(0).(contract.SnapshotStore)
	return store
}

// GetRunLedger implements the StoreManager interface.
func (m *MockStoreManager) GetRunLedger() contract.RunLedger {
	ret := m.Called()
	ledger, _ := ret.Get(0).(contract.RunLedger)
	return ledger
}

// MockSnapshotStore is a mock implementation of SnapshotStore for testing.
type MockSnapshotStore struct {
	mock.Mock
}

var _ contract.SnapshotStore = &MockSnapshotStore{} // Compile-time check

// Read implements the SnapshotStore interface.
func (m *MockSnapshotStore) Read(ctx context.Context, ct schema.CollectionType, project string) ([]byte, error) {
	args := m.Called(ctx, ct, project)
	blob, _ := args.Get(0).([]byte)
	return blob, args.Error(1)
}

// Write implements the SnapshotStore interface.
func (m *MockSnapshotStore) Write(ctx context.Context, ct schema.CollectionType, project string, blob []byte) error {
	args := m.Called(ctx, ct, project, blob)
	return args.Error(0)
}

// Delete implements the SnapshotStore interface.
func (m *MockSnapshotStore) Delete(ctx context.Context, ct schema.CollectionType, project string) error {
	args := m.Called(ctx, ct, project)
	return args.Error(0)
}

// GetStatus implements the SnapshotStore interface.
func (m *MockSnapshotStore) GetStatus() (schema.StoreStatus, error) {
	args := m.Called()
	return args.Get(0).(schema.StoreStatus), args.Error(1)
}

// Close implements the SnapshotStore interface.
func (m *MockSnapshotStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRunLedger is a mock implementation of RunLedger for testing.
type MockRunLedger struct {
	mock.Mock
}

var _ contract.RunLedger = &MockRunLedger{} // Compile-time check

// BeginRun implements the RunLedger interface.
func (m *MockRunLedger) BeginRun(ct schema.CollectionType, project string, kind schema.RunKind, startTime time.Time) (int64, error) {
	args := m.Called(ct, project, kind, startTime)
	return args.Get(0).(int64), args.Error(1)
}

// EndRun implements the RunLedger interface.
func (m *MockRunLedger) EndRun(runID int64, outcome schema.RunOutcome) error {
	args := m.Called(runID, outcome)
	return args.Error(0)
}

// RecordCorruptions implements the RunLedger interface.
func (m *MockRunLedger) RecordCorruptions(runID int64, ct schema.CollectionType, project string, detectedAt time.Time, entries []schema.CorruptionEntry) error {
	args := m.Called(runID, ct, project, detectedAt, entries)
	return args.Error(0)
}

// GetStatus implements the RunLedger interface.
func (m *MockRunLedger) GetStatus() (schema.LedgerStatus, error) {
	args := m.Called()
	return args.Get(0).(schema.LedgerStatus), args.Error(1)
}

// GetAllRuns implements the RunLedger interface.
func (m *MockRunLedger) GetAllRuns() ([]schema.RunRecord, error) {
	args := m.Called()
	runs, _ := args.Get(0).([]schema.RunRecord)
	return runs, args.Error(1)
}

// GetAllCorruptions implements the RunLedger interface.
func (m *MockRunLedger) GetAllCorruptions() ([]schema.CorruptionRecord, error) {
	args := m.Called()
	records, _ := args.Get(0).([]schema.CorruptionRecord)
	return records, args.Error(1)
}

// Close implements the RunLedger interface.
func (m *MockRunLedger) Close() error {
	args := m.Called()
	return args.Error(0)
}
