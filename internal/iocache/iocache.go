// Package iocache is for durable snapshot storage and run bookkeeping.
package iocache

import (
	"sync"

	"github.com/huangsam/feedmirror/internal/contract"
)

// StoreManagerImpl holds the process-wide snapshot store and run ledger.
type StoreManagerImpl struct {
	sync.RWMutex // Protects the store pointers during initialization
	snapshots    contract.SnapshotStore
	ledger       contract.RunLedger
}

var _ contract.StoreManager = &StoreManagerImpl{} // Compile-time check

// GetSnapshotStore returns the snapshot store.
func (mgr *StoreManagerImpl) GetSnapshotStore() contract.SnapshotStore {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.snapshots
}

// GetRunLedger returns the run ledger.
func (mgr *StoreManagerImpl) GetRunLedger() contract.RunLedger {
	mgr.RLock()
	defer mgr.RUnlock()
	return mgr.ledger
}
