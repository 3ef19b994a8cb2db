package billing

import (
	"sync"

	"github.com/Dhoini/purchase-lifecycle/internal/domain"
)

// ChangeDetector remembers the last purchase list it has seen.
type ChangeDetector struct {
	mu   sync.Mutex
	last []domain.Purchase
	seen bool
}

// HasChanged compares list with the stored snapshot by value, order
// included. When they differ the snapshot is replaced and true is returned.
// The first call always reports a change, even for an empty list.
func (d *ChangeDetector) HasChanged(list []domain.Purchase) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen && domain.PurchasesEqual(d.last, list) {
		return false
	}
	d.last = domain.ClonePurchases(list)
	if d.last == nil {
		d.last = []domain.Purchase{}
	}
	d.seen = true
	return true
}

// Snapshot returns a copy of the stored list and whether one exists.
func (d *ChangeDetector) Snapshot() ([]domain.Purchase, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.ClonePurchases(d.last), d.seen
}
