package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/omenlabs/omend/internal/domain"
	"github.com/omenlabs/omend/internal/lifecycle"
)

// Syncer updates the off-chain system of record after a confirmed ledger
// operation. The ledger has already committed by the time it runs, so the
// user action is irreversible regardless of backend outcome: exhausted
// retries end in BackendSyncFailed carrying the confirmed hash, never in a
// state that reads as the action not having happened.
type Syncer struct {
	backend     domain.Backend
	store       domain.OperationStore
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// NewSyncer creates a Syncer with the given retry budget and base backoff.
func NewSyncer(backend domain.Backend, store domain.OperationStore, maxAttempts int, backoff time.Duration, logger *slog.Logger) *Syncer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Syncer{
		backend:     backend,
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger.With(slog.String("component", "syncer")),
	}
}

// Sync pushes the record's off-chain projection to the backend, retrying
// with linear backoff up to the attempt budget. Re-entrant: a record
// already in BackendSyncing (e.g. resumed after restart) skips the
// transition and continues retrying.
func (s *Syncer) Sync(ctx context.Context, m *lifecycle.Machine) error {
	if m.Status() == domain.StatusConfirmed {
		if err := m.Apply(lifecycle.EventSyncStarted, nil); err != nil {
			return err
		}
		s.persist(ctx, m)
	}

	rec := m.Record()
	var lastErr error

	for m.Record().BackendAttempts < s.maxAttempts {
		attempt := m.IncBackendAttempts()
		if _, err := s.store.IncBackendAttempts(ctx, rec.ID); err != nil {
			s.logger.WarnContext(ctx, "syncer: persist attempt count failed",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}

		lastErr = s.push(ctx, m.Record())
		if lastErr == nil {
			if err := m.Apply(lifecycle.EventBackendOK, nil); err != nil {
				return err
			}
			s.persist(ctx, m)
			s.logger.InfoContext(ctx, "syncer: backend synced",
				slog.String("record_id", rec.ID),
				slog.String("hash", rec.OperationHash),
				slog.Int("attempts", attempt),
			)
			return nil
		}

		s.logger.WarnContext(ctx, "syncer: backend call failed",
			slog.String("record_id", rec.ID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		if attempt >= s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			// Cancellation abandons retrying; the confirmed on-chain fact
			// remains and reconciliation can replay later.
		case <-time.After(time.Duration(attempt) * s.backoff):
			continue
		}
		break
	}

	if lastErr == nil {
		lastErr = errors.New("backend sync attempts exhausted")
	}
	opErr := domain.NewBackendSyncError(rec.OperationHash, lastErr)
	if err := m.Apply(lifecycle.EventBackendFailed, opErr); err != nil {
		return err
	}
	s.persist(ctx, m)
	return nil
}

// Replay performs a single backend push for an already-failed record. Used
// by the reconciliation worker; it bypasses the lifecycle machine because
// the record is terminal, and reports plain success or failure.
func (s *Syncer) Replay(ctx context.Context, rec domain.Record) error {
	return s.push(ctx, rec)
}

// push maps a confirmed record to its backend write. The backend is
// idempotent per confirmed hash, so duplicate pushes converge on the same
// off-chain end state.
func (s *Syncer) push(ctx context.Context, rec domain.Record) error {
	in := rec.Intent
	marketID := in.Target.Hex()
	wallet := in.Requester.Hex()

	switch in.Kind {
	case domain.KindTrade:
		row := domain.TradeRow{
			MarketID: marketID,
			Wallet:   wallet,
			TxHash:   rec.OperationHash,
		}
		if in.Trade != nil {
			row.Side = in.Trade.Side
			row.Direction = in.Trade.Direction
			row.Amount = in.Trade.Amount
			row.Shares = in.Trade.Shares
		}
		return s.backend.RecordTrade(ctx, row)

	case domain.KindResolveMarket:
		outcome := domain.OutcomeA
		if in.Resolve != nil {
			outcome = in.Resolve.Outcome
		}
		return s.backend.MarkResolved(ctx, marketID, outcome, rec.OperationHash)

	case domain.KindClaimWinnings:
		return s.backend.MarkClaimed(ctx, marketID, wallet, rec.OperationHash)

	case domain.KindClaimFaucet:
		var amount *big.Int
		if in.Faucet != nil {
			amount = in.Faucet.Amount
		}
		return s.backend.RecordFaucetGrant(ctx, wallet, amount, rec.OperationHash)

	case domain.KindCreateMarket:
		row := domain.MarketRow{
			MarketID: marketID,
			Creator:  wallet,
			TxHash:   rec.OperationHash,
		}
		if in.Create != nil {
			row.Question = in.Create.Question
			row.EndTime = in.Create.EndTime
		}
		return s.backend.CreateMarket(ctx, row)
	}

	return fmt.Errorf("syncer: no backend projection for kind %q", in.Kind)
}

func (s *Syncer) persist(ctx context.Context, m *lifecycle.Machine) {
	rec := m.Record()
	if err := s.store.UpdateStatus(ctx, rec.ID, rec.Status, rec.Err); err != nil {
		s.logger.WarnContext(ctx, "syncer: persist status failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
