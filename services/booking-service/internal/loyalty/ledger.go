// Package loyalty keeps the append-only points ledger: earning on completion,
// reward redemption under a non-negative balance, and expiration of lapsed
// batches.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/outbox"
)

type Store interface {
	// Program returns a *model.NotFoundError when the business has none.
	Program(ctx context.Context, tx pgx.Tx, businessID string) (model.LoyaltyProgram, error)
	CustomerExists(ctx context.Context, tx pgx.Tx, businessID, customerID string) (bool, error)
	// LockCustomer serializes ledger writers of one customer until tx ends.
	LockCustomer(ctx context.Context, tx pgx.Tx, businessID, customerID string) error
	// Entries returns the customer's ledger in creation order.
	Entries(ctx context.Context, tx pgx.Tx, businessID, customerID string) ([]model.LoyaltyPointsEntry, error)
	EarnedEntry(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.LoyaltyPointsEntry, error)
	InsertEntry(ctx context.Context, tx pgx.Tx, e model.LoyaltyPointsEntry) (model.LoyaltyPointsEntry, error)

	RewardForUpdate(ctx context.Context, tx pgx.Tx, businessID, rewardID string) (model.LoyaltyReward, error)
	DecrementReward(ctx context.Context, tx pgx.Tx, rewardID string) error
	InsertRedemption(ctx context.Context, tx pgx.Tx, r model.Redemption) (model.Redemption, error)
	RedemptionForUpdate(ctx context.Context, tx pgx.Tx, businessID, redemptionID string) (model.Redemption, error)
	SetRedemptionStatus(ctx context.Context, tx pgx.Tx, redemptionID string, status model.RedemptionStatus) (model.Redemption, error)

	// CustomersWithLapsedPoints lists customers owning an earned entry whose
	// expires_at has passed and that has no expired entry yet.
	CustomersWithLapsedPoints(ctx context.Context, tx pgx.Tx, now time.Time) ([]CustomerRef, error)
}

type CustomerRef struct {
	BusinessID string
	CustomerID string
}

type Ledger struct {
	store  Store
	runner db.TxRunner
	events outbox.Writer
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(store Store, runner db.TxRunner, events outbox.Writer, logger *slog.Logger, now func() time.Time) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, runner: runner, events: events, logger: logger, now: now}
}

type entryPayload struct {
	EntryID       string `json:"entry_id"`
	BusinessID    string `json:"business_id"`
	CustomerID    string `json:"customer_id"`
	AppointmentID string `json:"appointment_id,omitempty"`
	RedemptionID  string `json:"redemption_id,omitempty"`
	SourceEntryID string `json:"source_entry_id,omitempty"`
	Points        int64  `json:"points"`
	Type          string `json:"type"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

func (l *Ledger) emit(ctx context.Context, tx pgx.Tx, eventType string, e model.LoyaltyPointsEntry) error {
	p := entryPayload{
		EntryID:       e.ID,
		BusinessID:    e.BusinessID,
		CustomerID:    e.CustomerID,
		AppointmentID: e.AppointmentID,
		RedemptionID:  e.RedemptionID,
		SourceEntryID: e.SourceEntryID,
		Points:        e.Points,
		Type:          string(e.Type),
	}
	if e.ExpiresAt != nil {
		p.ExpiresAt = e.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return outbox.Emit(ctx, l.events, tx, "loyalty_customer", e.CustomerID, eventType, e.BusinessID, p)
}

// Earn credits floor(price × points_per_currency_unit) for a completed
// appointment inside tx. Nothing is written when the program is missing or
// inactive, when the appointment has no customer, or when the result is not
// positive. A second call for the same appointment returns the first entry.
func (l *Ledger) Earn(ctx context.Context, tx pgx.Tx, appt model.Appointment, service model.Service) (model.LoyaltyPointsEntry, bool, error) {
	if appt.CustomerID == "" {
		return model.LoyaltyPointsEntry{}, false, nil
	}
	if service.Price == nil {
		return model.LoyaltyPointsEntry{}, false, &model.MissingPriceDataError{ServiceID: service.ID}
	}

	existing, err := l.store.EarnedEntry(ctx, tx, appt.BusinessID, appt.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, model.ErrNotFound):
		return model.LoyaltyPointsEntry{}, false, fmt.Errorf("load earned entry: %w", err)
	}

	program, err := l.store.Program(ctx, tx, appt.BusinessID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.LoyaltyPointsEntry{}, false, nil
		}
		return model.LoyaltyPointsEntry{}, false, fmt.Errorf("load loyalty program: %w", err)
	}
	if !program.IsActive {
		return model.LoyaltyPointsEntry{}, false, nil
	}

	points := PointsFor(*service.Price, program.PointsPerCurrencyUnit)
	if points <= 0 {
		return model.LoyaltyPointsEntry{}, false, nil
	}

	at := l.now().UTC()
	entry := model.LoyaltyPointsEntry{
		BusinessID:    appt.BusinessID,
		CustomerID:    appt.CustomerID,
		AppointmentID: appt.ID,
		Points:        points,
		Type:          model.EntryEarned,
		Description:   "appointment completed",
		CreatedAt:     at,
	}
	if program.PointsExpirationDays != nil && *program.PointsExpirationDays > 0 {
		exp := at.AddDate(0, 0, *program.PointsExpirationDays)
		entry.ExpiresAt = &exp
	}
	entry, err = l.store.InsertEntry(ctx, tx, entry)
	if err != nil {
		return model.LoyaltyPointsEntry{}, false, fmt.Errorf("insert earned entry: %w", err)
	}
	if err := l.emit(ctx, tx, outbox.LoyaltyEarned, entry); err != nil {
		return model.LoyaltyPointsEntry{}, false, err
	}
	return entry, true, nil
}

// ReverseEarn offsets the earned entry of an appointment with a reversed
// entry for the points expiration has not already written off. Lapsed
// batches are expired first. The original entry is left untouched. It fails
// with InsufficientPointsError when the points have already been spent.
func (l *Ledger) ReverseEarn(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.LoyaltyPointsEntry, bool, error) {
	earned, err := l.store.EarnedEntry(ctx, tx, businessID, appointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.LoyaltyPointsEntry{}, false, nil
		}
		return model.LoyaltyPointsEntry{}, false, fmt.Errorf("load earned entry: %w", err)
	}

	if err := l.store.LockCustomer(ctx, tx, businessID, earned.CustomerID); err != nil {
		return model.LoyaltyPointsEntry{}, false, fmt.Errorf("lock customer ledger: %w", err)
	}
	entries, err := l.store.Entries(ctx, tx, businessID, earned.CustomerID)
	if err != nil {
		return model.LoyaltyPointsEntry{}, false, fmt.Errorf("load ledger: %w", err)
	}
	for _, e := range entries {
		if e.Type == model.EntryReversed && e.SourceEntryID == earned.ID {
			return e, false, nil
		}
	}

	now := l.now().UTC()
	written, err := l.writeOffLapsed(ctx, tx, businessID, earned.CustomerID, entries, now)
	if err != nil {
		return model.LoyaltyPointsEntry{}, false, fmt.Errorf("expire lapsed points: %w", err)
	}
	entries = append(entries, written...)

	owed := earned.Points
	for _, e := range entries {
		if e.Type == model.EntryExpired && e.SourceEntryID == earned.ID {
			owed += e.Points
		}
	}
	if owed <= 0 {
		l.logger.Info("earned points already expired; nothing to reverse",
			"business_id", businessID, "appointment_id", appointmentID, "entry_id", earned.ID)
		return model.LoyaltyPointsEntry{}, false, nil
	}

	available := Replay(entries).Available(now)
	if available < owed {
		return model.LoyaltyPointsEntry{}, false, &model.InsufficientPointsError{
			CustomerID: earned.CustomerID,
			Available:  available,
			Required:   owed,
		}
	}

	rev, err := l.store.InsertEntry(ctx, tx, model.LoyaltyPointsEntry{
		BusinessID:    businessID,
		CustomerID:    earned.CustomerID,
		AppointmentID: appointmentID,
		SourceEntryID: earned.ID,
		Points:        -owed,
		Type:          model.EntryReversed,
		Description:   "appointment cancelled after completion",
		CreatedAt:     now,
	})
	if err != nil {
		return model.LoyaltyPointsEntry{}, false, fmt.Errorf("insert reversed entry: %w", err)
	}
	if err := l.emit(ctx, tx, outbox.LoyaltyReversed, rev); err != nil {
		return model.LoyaltyPointsEntry{}, false, err
	}
	return rev, true, nil
}

// Redeem exchanges points for a reward. The customer's ledger is locked for
// the whole transaction so concurrent redemptions are checked one at a time.
func (l *Ledger) Redeem(ctx context.Context, businessID, customerID, rewardID string) (model.Redemption, error) {
	if businessID == "" || customerID == "" || rewardID == "" {
		return model.Redemption{}, model.Invalid("reward_id", "business, customer and reward are required")
	}

	var out model.Redemption
	err := l.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		ok, err := l.store.CustomerExists(ctx, tx, businessID, customerID)
		if err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if !ok {
			return model.Invalid("customer_id", "unknown customer %s", customerID)
		}
		if err := l.store.LockCustomer(ctx, tx, businessID, customerID); err != nil {
			return fmt.Errorf("lock customer ledger: %w", err)
		}

		reward, err := l.store.RewardForUpdate(ctx, tx, businessID, rewardID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.Invalid("reward_id", "unknown reward %s", rewardID)
			}
			return fmt.Errorf("load reward: %w", err)
		}
		if !reward.IsActive {
			return model.Invalid("reward_id", "reward %s is not active", rewardID)
		}
		if reward.QuantityAvailable != nil && *reward.QuantityAvailable <= 0 {
			return model.Invalid("reward_id", "reward %s is out of stock", rewardID)
		}

		entries, err := l.store.Entries(ctx, tx, businessID, customerID)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		now := l.now().UTC()
		available := Replay(entries).Available(now)
		if available < reward.PointsRequired {
			return &model.InsufficientPointsError{
				CustomerID: customerID,
				Available:  available,
				Required:   reward.PointsRequired,
			}
		}

		red, err := l.store.InsertRedemption(ctx, tx, model.Redemption{
			BusinessID: businessID,
			CustomerID: customerID,
			RewardID:   rewardID,
			PointsUsed: reward.PointsRequired,
			Status:     model.RedemptionPending,
		})
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}
		entry, err := l.store.InsertEntry(ctx, tx, model.LoyaltyPointsEntry{
			BusinessID:   businessID,
			CustomerID:   customerID,
			RedemptionID: red.ID,
			Points:       -reward.PointsRequired,
			Type:         model.EntryRedeemed,
			Description:  "redeemed " + reward.Name,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("insert redeemed entry: %w", err)
		}
		if reward.QuantityAvailable != nil {
			if err := l.store.DecrementReward(ctx, tx, rewardID); err != nil {
				return fmt.Errorf("decrement reward stock: %w", err)
			}
		}
		if err := l.emit(ctx, tx, outbox.LoyaltyRedeemed, entry); err != nil {
			return err
		}
		out = red
		return nil
	})
	if err != nil {
		return model.Redemption{}, err
	}
	l.logger.Info("reward redeemed", "business_id", businessID, "customer_id", customerID,
		"reward_id", rewardID, "redemption_id", out.ID, "points", out.PointsUsed)
	return out, nil
}

// ExpireStale writes one expired entry per lapsed earned batch for its
// outstanding points. Running it again finds nothing outstanding.
func (l *Ledger) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	var refs []CustomerRef
	err := l.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		var err error
		refs, err = l.store.CustomersWithLapsedPoints(ctx, tx, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list customers with lapsed points: %w", err)
	}

	var (
		written int
		errs    []error
	)
	for _, ref := range refs {
		n, err := l.expireCustomer(ctx, ref, now)
		if err != nil {
			l.logger.Error("points expiration failed", "business_id", ref.BusinessID, "customer_id", ref.CustomerID, "err", err)
			errs = append(errs, err)
			continue
		}
		written += n
	}
	if written > 0 {
		l.logger.Info("loyalty points expired", "entries", written, "customers", len(refs))
	}
	return written, errors.Join(errs...)
}

func (l *Ledger) expireCustomer(ctx context.Context, ref CustomerRef, now time.Time) (int, error) {
	var written int
	err := l.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		written = 0
		if err := l.store.LockCustomer(ctx, tx, ref.BusinessID, ref.CustomerID); err != nil {
			return err
		}
		entries, err := l.store.Entries(ctx, tx, ref.BusinessID, ref.CustomerID)
		if err != nil {
			return err
		}
		out, err := l.writeOffLapsed(ctx, tx, ref.BusinessID, ref.CustomerID, entries, now)
		written = len(out)
		return err
	})
	return written, err
}

// writeOffLapsed writes one expired entry per lapsed earned batch of the
// given ledger. The caller holds the customer lock.
func (l *Ledger) writeOffLapsed(ctx context.Context, tx pgx.Tx, businessID, customerID string, entries []model.LoyaltyPointsEntry, now time.Time) ([]model.LoyaltyPointsEntry, error) {
	var out []model.LoyaltyPointsEntry
	for _, b := range Replay(entries).Lapsed(now) {
		e, err := l.store.InsertEntry(ctx, tx, model.LoyaltyPointsEntry{
			BusinessID:    businessID,
			CustomerID:    customerID,
			SourceEntryID: b.EntryID,
			Points:        -b.Remaining,
			Type:          model.EntryExpired,
			Description:   "points expired",
			CreatedAt:     now,
		})
		if err != nil {
			return out, err
		}
		if err := l.emit(ctx, tx, outbox.LoyaltyExpired, e); err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *Ledger) AvailableBalance(ctx context.Context, businessID, customerID string) (int64, error) {
	st, err := l.Statement(ctx, businessID, customerID)
	if err != nil {
		return 0, err
	}
	return st.Available, nil
}

type Statement struct {
	CustomerID string
	Available  int64
	Entries    []model.LoyaltyPointsEntry
	Batches    []Batch
}

func (l *Ledger) Statement(ctx context.Context, businessID, customerID string) (Statement, error) {
	var st Statement
	err := l.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		ok, err := l.store.CustomerExists(ctx, tx, businessID, customerID)
		if err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if !ok {
			return &model.NotFoundError{Kind: "customer", ID: customerID}
		}
		entries, err := l.store.Entries(ctx, tx, businessID, customerID)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		pos := Replay(entries)
		st = Statement{
			CustomerID: customerID,
			Available:  pos.Available(l.now()),
			Entries:    entries,
			Batches:    pos.Batches,
		}
		return nil
	})
	return st, err
}

// GrantBonus credits points that never expire.
func (l *Ledger) GrantBonus(ctx context.Context, businessID, customerID string, points int64, description string) (model.LoyaltyPointsEntry, error) {
	if points <= 0 {
		return model.LoyaltyPointsEntry{}, model.Invalid("points", "must be positive")
	}
	if description == "" {
		description = "bonus"
	}

	var out model.LoyaltyPointsEntry
	err := l.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		ok, err := l.store.CustomerExists(ctx, tx, businessID, customerID)
		if err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if !ok {
			return model.Invalid("customer_id", "unknown customer %s", customerID)
		}
		out, err = l.store.InsertEntry(ctx, tx, model.LoyaltyPointsEntry{
			BusinessID:  businessID,
			CustomerID:  customerID,
			Points:      points,
			Type:        model.EntryBonus,
			Description: description,
			CreatedAt:   l.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("insert bonus entry: %w", err)
		}
		return l.emit(ctx, tx, outbox.LoyaltyEarned, out)
	})
	return out, err
}

// UpdateRedemptionStatus moves a redemption along pending → approved → used.
// Setting the current status again is a no-op.
func (l *Ledger) UpdateRedemptionStatus(ctx context.Context, businessID, redemptionID string, to model.RedemptionStatus) (model.Redemption, error) {
	var out model.Redemption
	err := l.runner.InTx(ctx, db.ReadCommitted, func(tx pgx.Tx) error {
		red, err := l.store.RedemptionForUpdate(ctx, tx, businessID, redemptionID)
		if err != nil {
			return err
		}
		if red.Status == to {
			out = red
			return nil
		}
		if !redemptionMoveAllowed(red.Status, to) {
			return model.Invalid("status", "redemption cannot move from %s to %s", red.Status, to)
		}
		out, err = l.store.SetRedemptionStatus(ctx, tx, red.ID, to)
		return err
	})
	return out, err
}

func redemptionMoveAllowed(from, to model.RedemptionStatus) bool {
	switch from {
	case model.RedemptionPending:
		return to == model.RedemptionApproved
	case model.RedemptionApproved:
		return to == model.RedemptionUsed
	}
	return false
}
