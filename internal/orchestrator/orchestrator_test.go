package orchestrator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omenlabs/omend/internal/domain"
)

var (
	testWallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testMarket = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testToken  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testFaucet = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

type harness struct {
	store     *memStore
	slots     *memSlots
	ledger    *fakeLedger
	submitter *fakeSubmitter
	waiter    *fakeWaiter
	backend   *fakeBackend
	orch      *Orchestrator
}

// buildHarness wires the full stack over in-memory fakes without starting
// it, so tests can seed the store with pre-restart state first.
func buildHarness(t *testing.T) *harness {
	t.Helper()
	logger := discardLogger()

	h := &harness{
		store:     newMemStore(),
		slots:     newMemSlots(),
		ledger:    newFakeLedger(),
		submitter: &fakeSubmitter{},
		waiter:    &fakeWaiter{rcpt: domain.Receipt{Success: true, BlockNumber: 10}},
		backend:   &fakeBackend{},
	}

	validator := NewValidator(h.ledger, 24*time.Hour)
	allowance := NewAllowancePreparer(h.ledger, testToken)
	submitter := NewSubmitter(h.submitter, h.store, logger)
	watcher := NewWatcher(h.waiter, h.store, logger)
	syncer := NewSyncer(h.backend, h.store, 3, 0, logger)
	sequencer := NewSequencer(validator, allowance, submitter, watcher, syncer, h.store, h.slots, logger)
	h.orch = New(sequencer, watcher, syncer, h.store, h.slots, nil, logger)
	return h
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := buildHarness(t)
	require.NoError(t, h.orch.Start(context.Background()))
	return h
}

func (h *harness) waitForStatus(t *testing.T, id string, want domain.OperationStatus) domain.Record {
	t.Helper()
	var rec domain.Record
	require.Eventually(t, func() bool {
		var err error
		rec, err = h.orch.Get(context.Background(), id)
		return err == nil && rec.Status == want
	}, 2*time.Second, 2*time.Millisecond, "waiting for status %s", want)
	return rec
}

func buyParams(amount int64) domain.TradeParams {
	return domain.TradeParams{
		Side:      domain.OutcomeA,
		Direction: domain.DirectionBuy,
		Amount:    big.NewInt(amount),
	}
}

func TestTradeBuyWithSufficientAllowance(t *testing.T) {
	h := newHarness(t)
	h.ledger.allowance = big.NewInt(1_000_000)

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusDone)
	require.Equal(t, "0xhash1", final.OperationHash)
	require.Nil(t, final.Err)
	require.Equal(t, 1, h.submitter.callCount())
	require.Equal(t, 1, h.store.count())
	require.False(t, h.slots.isHeld(rec.Intent.Slot()))

	require.Len(t, h.backend.trades, 1)
	require.Equal(t, testMarket.Hex(), h.backend.trades[0].MarketID)
	require.Equal(t, "0xhash1", h.backend.trades[0].TxHash)
}

func TestTradeBuyRequiresApprovalFirst(t *testing.T) {
	h := newHarness(t)
	h.ledger.allowance = big.NewInt(0)

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusDone)

	// Two submissions: the approval, then the trade itself.
	require.Equal(t, 2, h.submitter.callCount())
	require.Equal(t, "0xhash2", final.OperationHash)

	// The approval is its own durable record with its own hash.
	require.Equal(t, 2, h.store.count())
	approvals, err := h.store.ListByStatus(context.Background(), domain.StatusConfirmed, 0)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	require.Equal(t, domain.KindApprove, approvals[0].Intent.Kind)
	require.Equal(t, "0xhash1", approvals[0].OperationHash)
	require.Equal(t, testToken, approvals[0].Intent.Target)
	require.Equal(t, testMarket, approvals[0].Intent.Approve.Spender)
}

func TestTradeValidationFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.ledger.snap = domain.MarketSnapshot{Resolved: true}

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusFailed)
	require.NotNil(t, final.Err)
	require.Equal(t, domain.CodeValidation, final.Err.Code)
	require.Empty(t, final.OperationHash)
	require.Zero(t, h.submitter.callCount())
	require.False(t, h.slots.isHeld(rec.Intent.Slot()))
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	h := newHarness(t)

	intent := domain.Intent{Kind: domain.KindTrade, Target: testMarket, Requester: testWallet}
	release, err := h.slots.Acquire(context.Background(), intent.Slot())
	require.NoError(t, err)
	defer release()

	_, err = h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.Error(t, err)

	var opErr *domain.OpError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, domain.CodeValidation, opErr.Code)
	require.Equal(t, 0, h.store.count(), "no record should exist for a rejected duplicate")
}

func TestUserDeclineEndsInUserRejected(t *testing.T) {
	h := newHarness(t)
	h.ledger.allowance = big.NewInt(1_000_000)
	h.submitter.err = domain.ErrUserDeclined

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusUserRejected)
	require.Equal(t, domain.CodeUserDeclined, final.Err.Code)
	require.Empty(t, final.OperationHash)
	require.Zero(t, h.backend.callCount())
	require.False(t, h.slots.isHeld(rec.Intent.Slot()))
}

func TestApprovalDeclineAbortsTrade(t *testing.T) {
	h := newHarness(t)
	h.ledger.allowance = big.NewInt(0)
	h.submitter.err = domain.ErrUserDeclined

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusUserRejected)
	require.Equal(t, domain.CodeUserDeclined, final.Err.Code)
	// The trade itself never reached submission.
	require.Equal(t, 1, h.submitter.callCount())
}

func TestRevertedOperationCarriesReason(t *testing.T) {
	h := newHarness(t)
	h.ledger.allowance = big.NewInt(1_000_000)
	h.waiter.rcpt = domain.Receipt{Success: false, BlockNumber: 11, RevertReason: "market closed"}

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusReverted)
	require.Equal(t, domain.CodeReverted, final.Err.Code)
	require.Equal(t, "market closed", final.Err.Message)
	require.NotEmpty(t, final.OperationHash)
	require.Zero(t, h.backend.callCount(), "reverted operations must not reach the backend")
}

func TestBackendFailureRetainsConfirmedHash(t *testing.T) {
	h := newHarness(t)
	h.ledger.allowance = big.NewInt(1_000_000)
	h.backend.failN = 1000

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusBackendSyncFailed)
	require.Equal(t, domain.CodeBackendSync, final.Err.Code)
	require.Equal(t, final.OperationHash, final.Err.Hash,
		"the sync failure must carry the confirmed hash for reconciliation")
	require.Equal(t, 3, h.backend.callCount())
	require.Equal(t, 3, final.BackendAttempts)
}

func TestBackendRetrySucceedsWithinBudget(t *testing.T) {
	h := newHarness(t)
	h.ledger.allowance = big.NewInt(1_000_000)
	h.backend.failN = 2

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusDone)
	require.Equal(t, 3, h.backend.callCount())
	require.Equal(t, 3, final.BackendAttempts)
}

func TestFaucetClaimFillsGrantAmount(t *testing.T) {
	h := newHarness(t)
	h.ledger.faucet = domain.FaucetState{
		Reserve:     big.NewInt(10_000),
		ClaimAmount: big.NewInt(100),
	}

	rec, err := h.orch.SubmitFaucetClaim(context.Background(), testWallet, testFaucet)
	require.NoError(t, err)

	h.waitForStatus(t, rec.ID, domain.StatusDone)
	require.Equal(t, 1, h.backend.callCount())
}

func TestFaucetCooldownRejected(t *testing.T) {
	h := newHarness(t)
	h.ledger.faucet = domain.FaucetState{
		LastClaimAt: time.Now().Add(-time.Hour),
		Reserve:     big.NewInt(10_000),
		ClaimAmount: big.NewInt(100),
	}

	rec, err := h.orch.SubmitFaucetClaim(context.Background(), testWallet, testFaucet)
	require.NoError(t, err)

	final := h.waitForStatus(t, rec.ID, domain.StatusFailed)
	require.Equal(t, domain.CodeValidation, final.Err.Code)
	require.Zero(t, h.submitter.callCount())
}

// seedRecord persists a record as a previous process would have left it.
func seedRecord(t *testing.T, h *harness, id string, status domain.OperationStatus, hash string, intent domain.Intent) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, h.store.Create(context.Background(), domain.Record{
		ID:            id,
		Intent:        intent,
		Status:        status,
		OperationHash: hash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func tradeIntentFor(amount int64) domain.Intent {
	p := buyParams(amount)
	return domain.Intent{
		Kind:      domain.KindTrade,
		Target:    testMarket,
		Requester: testWallet,
		Trade:     &p,
	}
}

func TestResumeReattachesPendingRecord(t *testing.T) {
	h := buildHarness(t)
	h.waiter.rcpt = domain.Receipt{Success: true, BlockNumber: 42}

	// A record left Pending by a previous process, hash already assigned.
	seedRecord(t, h, "resume-1", domain.StatusPending, "0xdeadbeef", domain.Intent{
		Kind:      domain.KindClaimWinnings,
		Target:    testMarket,
		Requester: testWallet,
	})

	require.NoError(t, h.orch.Start(context.Background()))

	require.Eventually(t, func() bool {
		rec, err := h.store.GetByID(context.Background(), "resume-1")
		return err == nil && rec.Status == domain.StatusDone
	}, 2*time.Second, 2*time.Millisecond)

	rec, err := h.store.GetByID(context.Background(), "resume-1")
	require.NoError(t, err)
	require.Equal(t, "0xdeadbeef", rec.OperationHash, "resume must not resubmit")
	require.Equal(t, 1, h.backend.callCount())
}

func TestResumedPendingRecordHoldsSlot(t *testing.T) {
	h := buildHarness(t)
	h.ledger.allowance = big.NewInt(1_000_000)
	h.waiter.gate = make(chan struct{})

	seedRecord(t, h, "resume-2", domain.StatusPending, "0xoriginal", tradeIntentFor(500))

	require.NoError(t, h.orch.Start(context.Background()))
	require.True(t, h.slots.isHeld(tradeIntentFor(500).Slot()),
		"resume must take the submission slot back for the watched record")

	// A second intent for the same tuple is rejected while the first is
	// still outstanding.
	_, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.Error(t, err)
	var opErr *domain.OpError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, domain.CodeValidation, opErr.Code)

	// Once the watched record reaches a terminal status the slot frees up
	// and a fresh submission for the tuple goes through.
	close(h.waiter.gate)
	require.Eventually(t, func() bool {
		rec, err := h.store.GetByID(context.Background(), "resume-2")
		return err == nil && rec.Status == domain.StatusDone
	}, 2*time.Second, 2*time.Millisecond)

	var rec2 domain.Record
	require.Eventually(t, func() bool {
		r, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
		if err != nil {
			return false
		}
		rec2 = r
		return true
	}, 2*time.Second, 2*time.Millisecond, "slot must free once the resumed record is terminal")
	h.waitForStatus(t, rec2.ID, domain.StatusDone)
}

func TestRestartFailsPreHashRecords(t *testing.T) {
	h := buildHarness(t)

	// Records interrupted before any hash existed: nothing went out, so a
	// restart must fail them rather than leave the interface polling a
	// status that can never advance.
	seedRecord(t, h, "stuck-1", domain.StatusValidating, "", tradeIntentFor(500))
	seedRecord(t, h, "stuck-2", domain.StatusAwaitingSignature, "", domain.Intent{
		Kind:      domain.KindClaimWinnings,
		Target:    testMarket,
		Requester: testWallet,
	})

	require.NoError(t, h.orch.Start(context.Background()))

	for _, id := range []string{"stuck-1", "stuck-2"} {
		rec, err := h.orch.Get(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFailed, rec.Status)
		require.NotNil(t, rec.Err)
		require.Equal(t, domain.CodeSubmission, rec.Err.Code)
	}

	// The failed tuple is free for a fresh attempt.
	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)
	h.waitForStatus(t, rec.ID, domain.StatusDone)
}

func TestRestartWatchesSignedRecordWithHash(t *testing.T) {
	h := buildHarness(t)

	// Crash between persisting the hash and persisting the Pending status:
	// the submission is live, so the record is watched, not failed.
	seedRecord(t, h, "signed-1", domain.StatusAwaitingSignature, "0xsignedhash", tradeIntentFor(500))

	require.NoError(t, h.orch.Start(context.Background()))

	require.Eventually(t, func() bool {
		rec, err := h.store.GetByID(context.Background(), "signed-1")
		return err == nil && rec.Status == domain.StatusDone
	}, 2*time.Second, 2*time.Millisecond)

	rec, err := h.store.GetByID(context.Background(), "signed-1")
	require.NoError(t, err)
	require.Equal(t, "0xsignedhash", rec.OperationHash, "the live hash must survive recovery")
	require.Zero(t, h.submitter.callCount(), "recovery must not resubmit")
	require.Equal(t, 1, h.backend.callCount())
}

func TestAckReleasesTerminalRecord(t *testing.T) {
	h := newHarness(t)
	h.ledger.allowance = big.NewInt(1_000_000)

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)
	h.waitForStatus(t, rec.ID, domain.StatusDone)

	require.NoError(t, h.orch.Ack(context.Background(), rec.ID))

	stored, err := h.store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, stored.Acknowledged)

	// A second identical trade is now free to start.
	rec2, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)
	h.waitForStatus(t, rec2.ID, domain.StatusDone)
}

func TestAckRejectsLiveRecord(t *testing.T) {
	h := newHarness(t)
	// Block the operation in Pending by never resolving the receipt.
	h.waiter.err = context.DeadlineExceeded
	h.ledger.allowance = big.NewInt(1_000_000)

	rec, err := h.orch.SubmitTrade(context.Background(), testWallet, testMarket, buyParams(500))
	require.NoError(t, err)
	h.waitForStatus(t, rec.ID, domain.StatusPending)

	require.Error(t, h.orch.Ack(context.Background(), rec.ID))
}
