package service

import "sync"

type claimKey struct {
	saleID  int64
	buyerID string
}

// claimTable tracks which buyers already hold a purchase per sale. TryClaim
// is the atomic check-and-set that keeps two concurrent requests from the
// same buyer from both reaching the ledger.
type claimTable struct {
	mu     sync.Mutex
	claims map[claimKey]struct{}
}

func newClaimTable() *claimTable {
	return &claimTable{claims: make(map[claimKey]struct{})}
}

func (t *claimTable) TryClaim(saleID int64, buyerID string) bool {
	key := claimKey{saleID: saleID, buyerID: buyerID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, taken := t.claims[key]; taken {
		return false
	}
	t.claims[key] = struct{}{}
	return true
}

func (t *claimTable) Unclaim(saleID int64, buyerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.claims, claimKey{saleID: saleID, buyerID: buyerID})
}
