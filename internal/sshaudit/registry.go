package sshaudit

import (
	"sync"

	"gorm.io/gorm"
)

var (
	globalAuditor *Auditor
	registryMu    sync.RWMutex
)

// InitGlobal creates and stores the global Auditor instance.
// Call this once during startup after the database is initialized.
func InitGlobal(db *gorm.DB, retentionDays int) error {
	a, err := NewAuditor(db, retentionDays)
	if err != nil {
		return err
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	globalAuditor = a
	return nil
}

// GetAuditor returns the global Auditor instance, or nil.
func GetAuditor() *Auditor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return globalAuditor
}

// SetGlobalForTest sets the global Auditor for tests.
func SetGlobalForTest(a *Auditor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	globalAuditor = a
}

// ResetGlobalForTest clears the global Auditor.
func ResetGlobalForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	globalAuditor = nil
}
