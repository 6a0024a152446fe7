// Package store provides an in-memory harvest.TxStore for tests and demos.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/harvest-ledger/harvest"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// state holds every record. Methods on state take no locks; callers hold
// Memory.mu.
type state struct {
	collections     map[harvest.CollectionID]harvest.Collection
	collectionOrder []harvest.CollectionID
	pickers         map[harvest.PickerID]harvest.Picker
	entries         map[harvest.PickerID][]harvest.WeighEntry
	batches         map[harvest.CollectionID][]harvest.PaymentBatch
	pools           map[harvest.CollectionID]harvest.CashPool
	wallets         map[harvest.WalletID]harvest.Wallet
	usage           map[harvest.UsageID]harvest.UsageRecord
	usageOrder      []harvest.UsageID
	harvests        []harvest.HarvestRecord
	sales           []harvest.SaleRecord
}

func newState() *state {
	return &state{
		collections: make(map[harvest.CollectionID]harvest.Collection),
		pickers:     make(map[harvest.PickerID]harvest.Picker),
		entries:     make(map[harvest.PickerID][]harvest.WeighEntry),
		batches:     make(map[harvest.CollectionID][]harvest.PaymentBatch),
		pools:       make(map[harvest.CollectionID]harvest.CashPool),
		wallets:     make(map[harvest.WalletID]harvest.Wallet),
		usage:       make(map[harvest.UsageID]harvest.UsageRecord),
	}
}

// clone copies maps and slices so a rollback can restore them. Record values
// are copied by value; pointer fields inside them are never mutated in place.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.collections {
		c.collections[k] = v
	}
	c.collectionOrder = append(c.collectionOrder, s.collectionOrder...)
	for k, v := range s.pickers {
		c.pickers[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = append([]harvest.WeighEntry(nil), v...)
	}
	for k, v := range s.batches {
		c.batches[k] = append([]harvest.PaymentBatch(nil), v...)
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.usage {
		c.usage[k] = v
	}
	c.usageOrder = append(c.usageOrder, s.usageOrder...)
	c.harvests = append(c.harvests, s.harvests...)
	c.sales = append(c.sales, s.sales...)
	return c
}

func (s *state) createCollection(c harvest.Collection) error {
	if _, ok := s.collections[c.ID]; !ok {
		s.collectionOrder = append(s.collectionOrder, c.ID)
	}
	s.collections[c.ID] = c
	return nil
}

func (s *state) getCollection(id harvest.CollectionID) (*harvest.Collection, error) {
	c, ok := s.collections[id]
	if !ok {
		return nil, harvest.ErrCollectionNotFound
	}
	return &c, nil
}

func (s *state) updateCollection(c harvest.Collection) error {
	if _, ok := s.collections[c.ID]; !ok {
		return harvest.ErrCollectionNotFound
	}
	s.collections[c.ID] = c
	return nil
}

func (s *state) listCollections(scope harvest.Scope) []harvest.Collection {
	var out []harvest.Collection
	for _, id := range s.collectionOrder {
		c := s.collections[id]
		if c.Scope() == scope {
			out = append(out, c)
		}
	}
	return out
}

func (s *state) listOpenCollections() []harvest.Collection {
	var out []harvest.Collection
	for _, id := range s.collectionOrder {
		if c := s.collections[id]; c.Status != harvest.StatusClosed {
			out = append(out, c)
		}
	}
	return out
}

func (s *state) createPicker(p harvest.Picker) error {
	if _, ok := s.collections[p.CollectionID]; !ok {
		return harvest.ErrCollectionNotFound
	}
	s.pickers[p.ID] = p
	return nil
}

func (s *state) getPicker(id harvest.PickerID) (*harvest.Picker, error) {
	p, ok := s.pickers[id]
	if !ok {
		return nil, harvest.ErrPickerNotFound
	}
	return &p, nil
}

func (s *state) updatePicker(p harvest.Picker) error {
	if _, ok := s.pickers[p.ID]; !ok {
		return harvest.ErrPickerNotFound
	}
	s.pickers[p.ID] = p
	return nil
}

func (s *state) listPickers(collectionID harvest.CollectionID) []harvest.Picker {
	var out []harvest.Picker
	for _, p := range s.pickers {
		if p.CollectionID == collectionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PickerNumber != out[j].PickerNumber {
			return out[i].PickerNumber < out[j].PickerNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) appendWeighEntry(e harvest.WeighEntry) error {
	if _, ok := s.pickers[e.PickerID]; !ok {
		return harvest.ErrPickerNotFound
	}
	s.entries[e.PickerID] = append(s.entries[e.PickerID], e)
	return nil
}

func (s *state) listWeighEntries(pickerID harvest.PickerID) []harvest.WeighEntry {
	return append([]harvest.WeighEntry(nil), s.entries[pickerID]...)
}

func (s *state) createPaymentBatch(b harvest.PaymentBatch) error {
	b.PickerIDs = append([]harvest.PickerID(nil), b.PickerIDs...)
	s.batches[b.CollectionID] = append(s.batches[b.CollectionID], b)
	return nil
}

func (s *state) listPaymentBatches(collectionID harvest.CollectionID) []harvest.PaymentBatch {
	src := s.batches[collectionID]
	out := make([]harvest.PaymentBatch, len(src))
	for i, b := range src {
		b.PickerIDs = append([]harvest.PickerID(nil), b.PickerIDs...)
		out[i] = b
	}
	return out
}

func (s *state) getCashPool(collectionID harvest.CollectionID) *harvest.CashPool {
	p, ok := s.pools[collectionID]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) getWallet(id harvest.WalletID) *harvest.Wallet {
	w, ok := s.wallets[id]
	if !ok {
		return nil
	}
	return &w
}

func (s *state) getUsage(id harvest.UsageID) *harvest.UsageRecord {
	u, ok := s.usage[id]
	if !ok {
		return nil
	}
	return &u
}

func (s *state) saveUsage(u harvest.UsageRecord) {
	if _, ok := s.usage[u.ID]; !ok {
		s.usageOrder = append(s.usageOrder, u.ID)
	}
	s.usage[u.ID] = u
}

func (s *state) listUsage(walletID harvest.WalletID) []harvest.UsageRecord {
	var out []harvest.UsageRecord
	for _, id := range s.usageOrder {
		if u := s.usage[id]; u.WalletID == walletID {
			out = append(out, u)
		}
	}
	return out
}

func (s *state) listSales(scope harvest.Scope) []harvest.SaleRecord {
	var out []harvest.SaleRecord
	for _, r := range s.sales {
		if r.CompanyID == scope.CompanyID && r.ProjectID == scope.ProjectID && r.CropType == scope.CropType {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// MEMORY - locked access for reads and single-record writes
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

func (m *Memory) CreateCollection(_ context.Context, c harvest.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createCollection(c)
}

func (m *Memory) GetCollection(_ context.Context, id harvest.CollectionID) (*harvest.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getCollection(id)
}

func (m *Memory) UpdateCollection(_ context.Context, c harvest.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateCollection(c)
}

func (m *Memory) ListCollections(_ context.Context, scope harvest.Scope) ([]harvest.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listCollections(scope), nil
}

func (m *Memory) ListOpenCollections(_ context.Context) ([]harvest.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listOpenCollections(), nil
}

func (m *Memory) CreatePicker(_ context.Context, p harvest.Picker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createPicker(p)
}

func (m *Memory) GetPicker(_ context.Context, id harvest.PickerID) (*harvest.Picker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getPicker(id)
}

func (m *Memory) UpdatePicker(_ context.Context, p harvest.Picker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updatePicker(p)
}

func (m *Memory) ListPickers(_ context.Context, collectionID harvest.CollectionID) ([]harvest.Picker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPickers(collectionID), nil
}

func (m *Memory) AppendWeighEntry(_ context.Context, e harvest.WeighEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendWeighEntry(e)
}

func (m *Memory) ListWeighEntries(_ context.Context, pickerID harvest.PickerID) ([]harvest.WeighEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listWeighEntries(pickerID), nil
}

func (m *Memory) CreatePaymentBatch(_ context.Context, b harvest.PaymentBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createPaymentBatch(b)
}

func (m *Memory) ListPaymentBatches(_ context.Context, collectionID harvest.CollectionID) ([]harvest.PaymentBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPaymentBatches(collectionID), nil
}

func (m *Memory) GetCashPool(_ context.Context, collectionID harvest.CollectionID) (*harvest.CashPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getCashPool(collectionID), nil
}

func (m *Memory) SaveCashPool(_ context.Context, p harvest.CashPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.pools[p.CollectionID] = p
	return nil
}

func (m *Memory) GetWallet(_ context.Context, id harvest.WalletID) (*harvest.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getWallet(id), nil
}

func (m *Memory) SaveWallet(_ context.Context, w harvest.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.wallets[w.ID] = w
	return nil
}

func (m *Memory) GetUsage(_ context.Context, id harvest.UsageID) (*harvest.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getUsage(id), nil
}

func (m *Memory) SaveUsage(_ context.Context, u harvest.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.saveUsage(u)
	return nil
}

func (m *Memory) ListUsage(_ context.Context, walletID harvest.WalletID) ([]harvest.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listUsage(walletID), nil
}

func (m *Memory) AppendHarvestRecord(_ context.Context, h harvest.HarvestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.harvests = append(m.st.harvests, h)
	return nil
}

func (m *Memory) AppendSale(_ context.Context, r harvest.SaleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.sales = append(m.st.sales, r)
	return nil
}

func (m *Memory) ListSales(_ context.Context, scope harvest.Scope) ([]harvest.SaleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listSales(scope), nil
}

// HarvestRecords returns every emitted harvest record.
func (m *Memory) HarvestRecords() []harvest.HarvestRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]harvest.HarvestRecord(nil), m.st.harvests...)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn while holding the write lock, so transactions are fully
// serialized. Writes go straight to the live state; on error the snapshot
// taken at the start is restored.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(harvest.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := tm.st.clone()
	if err := fn(&txMemoryView{st: tm.st}); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

// txMemoryView is the Store handed to fn. It runs under the lock WithTx holds.
type txMemoryView struct {
	st *state
}

func (tv *txMemoryView) CreateCollection(_ context.Context, c harvest.Collection) error {
	return tv.st.createCollection(c)
}

func (tv *txMemoryView) GetCollection(_ context.Context, id harvest.CollectionID) (*harvest.Collection, error) {
	return tv.st.getCollection(id)
}

func (tv *txMemoryView) UpdateCollection(_ context.Context, c harvest.Collection) error {
	return tv.st.updateCollection(c)
}

func (tv *txMemoryView) ListCollections(_ context.Context, scope harvest.Scope) ([]harvest.Collection, error) {
	return tv.st.listCollections(scope), nil
}

func (tv *txMemoryView) ListOpenCollections(_ context.Context) ([]harvest.Collection, error) {
	return tv.st.listOpenCollections(), nil
}

func (tv *txMemoryView) CreatePicker(_ context.Context, p harvest.Picker) error {
	return tv.st.createPicker(p)
}

func (tv *txMemoryView) GetPicker(_ context.Context, id harvest.PickerID) (*harvest.Picker, error) {
	return tv.st.getPicker(id)
}

func (tv *txMemoryView) UpdatePicker(_ context.Context, p harvest.Picker) error {
	return tv.st.updatePicker(p)
}

func (tv *txMemoryView) ListPickers(_ context.Context, collectionID harvest.CollectionID) ([]harvest.Picker, error) {
	return tv.st.listPickers(collectionID), nil
}

func (tv *txMemoryView) AppendWeighEntry(_ context.Context, e harvest.WeighEntry) error {
	return tv.st.appendWeighEntry(e)
}

func (tv *txMemoryView) ListWeighEntries(_ context.Context, pickerID harvest.PickerID) ([]harvest.WeighEntry, error) {
	return tv.st.listWeighEntries(pickerID), nil
}

func (tv *txMemoryView) CreatePaymentBatch(_ context.Context, b harvest.PaymentBatch) error {
	return tv.st.createPaymentBatch(b)
}

func (tv *txMemoryView) ListPaymentBatches(_ context.Context, collectionID harvest.CollectionID) ([]harvest.PaymentBatch, error) {
	return tv.st.listPaymentBatches(collectionID), nil
}

func (tv *txMemoryView) GetCashPool(_ context.Context, collectionID harvest.CollectionID) (*harvest.CashPool, error) {
	return tv.st.getCashPool(collectionID), nil
}

func (tv *txMemoryView) SaveCashPool(_ context.Context, p harvest.CashPool) error {
	tv.st.pools[p.CollectionID] = p
	return nil
}

func (tv *txMemoryView) GetWallet(_ context.Context, id harvest.WalletID) (*harvest.Wallet, error) {
	return tv.st.getWallet(id), nil
}

func (tv *txMemoryView) SaveWallet(_ context.Context, w harvest.Wallet) error {
	tv.st.wallets[w.ID] = w
	return nil
}

func (tv *txMemoryView) GetUsage(_ context.Context, id harvest.UsageID) (*harvest.UsageRecord, error) {
	return tv.st.getUsage(id), nil
}

func (tv *txMemoryView) SaveUsage(_ context.Context, u harvest.UsageRecord) error {
	tv.st.saveUsage(u)
	return nil
}

func (tv *txMemoryView) ListUsage(_ context.Context, walletID harvest.WalletID) ([]harvest.UsageRecord, error) {
	return tv.st.listUsage(walletID), nil
}

func (tv *txMemoryView) AppendHarvestRecord(_ context.Context, h harvest.HarvestRecord) error {
	tv.st.harvests = append(tv.st.harvests, h)
	return nil
}

func (tv *txMemoryView) AppendSale(_ context.Context, r harvest.SaleRecord) error {
	tv.st.sales = append(tv.st.sales, r)
	return nil
}

func (tv *txMemoryView) ListSales(_ context.Context, scope harvest.Scope) ([]harvest.SaleRecord, error) {
	return tv.st.listSales(scope), nil
}
