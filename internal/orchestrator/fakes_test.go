package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omenlabs/omend/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory domain.OperationStore.
type memStore struct {
	mu   sync.Mutex
	recs map[string]domain.Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]domain.Record)}
}

func (s *memStore) Create(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return fmt.Errorf("duplicate id %s", rec.ID)
	}
	s.recs[rec.ID] = rec
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) SetHash(ctx context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.OperationHash != "" {
		return domain.ErrHashAlreadySet
	}
	rec.OperationHash = hash
	s.recs[id] = rec
	return nil
}

func (s *memStore) SetReceipt(ctx context.Context, id string, rcpt domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Receipt = &rcpt
	s.recs[id] = rec
	return nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status domain.OperationStatus, opErr *domain.OpError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	if opErr != nil {
		rec.Err = opErr
	}
	rec.UpdatedAt = time.Now().UTC()
	s.recs[id] = rec
	return nil
}

func (s *memStore) IncBackendAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	rec.BackendAttempts++
	s.recs[id] = rec
	return rec.BackendAttempts, nil
}

func (s *memStore) Acknowledge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Acknowledged = true
	s.recs[id] = rec
	return nil
}

func (s *memStore) ListByStatus(ctx context.Context, status domain.OperationStatus, limit int) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Record
	for _, rec := range s.recs {
		if rec.Status == status {
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) ListAcknowledgedBefore(ctx context.Context, before time.Time) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Record
	for _, rec := range s.recs {
		if rec.Acknowledged && rec.UpdatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStore) DeleteByIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.recs, id)
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// memSlots is an in-memory domain.SubmissionSlots.
type memSlots struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemSlots() *memSlots {
	return &memSlots{held: make(map[string]bool)}
}

func (s *memSlots) Acquire(ctx context.Context, key domain.SlotKey) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	if s.held[k] {
		return nil, domain.ErrSlotHeld
	}
	s.held[k] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.held, k)
		})
	}, nil
}

func (s *memSlots) isHeld(key domain.SlotKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[key.String()]
}

// fakeLedger is a canned-state domain.LedgerReader.
type fakeLedger struct {
	snap      domain.MarketSnapshot
	balance   *big.Int
	shares    *big.Int
	payout    *big.Int
	claimed   bool
	allowance *big.Int
	faucet    domain.FaucetState
	readErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balance:   big.NewInt(1_000_000),
		shares:    big.NewInt(0),
		payout:    big.NewInt(0),
		allowance: big.NewInt(0),
	}
}

func (l *fakeLedger) MarketSnapshot(ctx context.Context, market common.Address) (domain.MarketSnapshot, error) {
	return l.snap, l.readErr
}

func (l *fakeLedger) Balance(ctx context.Context, holder common.Address) (*big.Int, error) {
	return l.balance, l.readErr
}

func (l *fakeLedger) Shares(ctx context.Context, market, holder common.Address, side domain.Outcome) (*big.Int, error) {
	return l.shares, l.readErr
}

func (l *fakeLedger) Payout(ctx context.Context, market, holder common.Address) (*big.Int, error) {
	return l.payout, l.readErr
}

func (l *fakeLedger) HasClaimed(ctx context.Context, market, holder common.Address) (bool, error) {
	return l.claimed, l.readErr
}

func (l *fakeLedger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return l.allowance, l.readErr
}

func (l *fakeLedger) FaucetState(ctx context.Context, holder common.Address) (domain.FaucetState, error) {
	return l.faucet, l.readErr
}

// fakeSubmitter returns sequential hashes, or a canned error.
type fakeSubmitter struct {
	mu     sync.Mutex
	err    error
	calls  int
	hashes []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, call domain.LedgerCall) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	hash := fmt.Sprintf("0xhash%d", f.calls)
	f.hashes = append(f.hashes, hash)
	return hash, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeWaiter resolves every hash with the same receipt or error. A non-nil
// gate holds the wait open until the channel is closed, keeping the record
// in Pending.
type fakeWaiter struct {
	rcpt domain.Receipt
	err  error
	gate chan struct{}
}

func (f *fakeWaiter) WaitForReceipt(ctx context.Context, hash string) (domain.Receipt, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return domain.Receipt{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.Receipt{}, f.err
	}
	return f.rcpt, nil
}

// fakeBackend counts writes and fails the first failN calls.
type fakeBackend struct {
	mu     sync.Mutex
	failN  int
	calls  int
	trades []domain.TradeRow
}

func (f *fakeBackend) step() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return fmt.Errorf("backend unavailable")
	}
	return nil
}

func (f *fakeBackend) MarkResolved(ctx context.Context, marketID string, outcome domain.Outcome, txHash string) error {
	return f.step()
}

func (f *fakeBackend) RecordTrade(ctx context.Context, row domain.TradeRow) error {
	if err := f.step(); err != nil {
		return err
	}
	f.mu.Lock()
	f.trades = append(f.trades, row)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) MarkClaimed(ctx context.Context, marketID, wallet, txHash string) error {
	return f.step()
}

func (f *fakeBackend) RecordFaucetGrant(ctx context.Context, wallet string, amount *big.Int, txHash string) error {
	return f.step()
}

func (f *fakeBackend) CreateMarket(ctx context.Context, row domain.MarketRow) error {
	return f.step()
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
