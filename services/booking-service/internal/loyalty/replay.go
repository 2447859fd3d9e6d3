package loyalty

import (
	"slices"
	"time"

	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
)

// Batch is the outstanding portion of one positive ledger entry.
type Batch struct {
	EntryID   string
	Type      model.EntryType
	Points    int64
	Remaining int64
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// LapsedAt reports whether the batch can no longer be spent at t.
func (b Batch) LapsedAt(t time.Time) bool {
	return b.ExpiresAt != nil && !t.Before(*b.ExpiresAt)
}

// Position is the result of replaying a customer's ledger.
type Position struct {
	Batches []Batch
	// Shortfall is debit that found no batch to draw from. It only appears
	// in ledgers written outside this package.
	Shortfall int64
}

// Replay folds entries in creation order. Earned and bonus entries open
// batches. Redemptions draw from the oldest batches still alive when the
// redemption was written. Expired and reversed entries drain their source
// batch first and take any remainder FIFO.
func Replay(entries []model.LoyaltyPointsEntry) Position {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b model.LoyaltyPointsEntry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var p Position
	for _, e := range ordered {
		switch e.Type {
		case model.EntryEarned, model.EntryBonus:
			if e.Points <= 0 {
				continue
			}
			p.Batches = append(p.Batches, Batch{
				EntryID:   e.ID,
				Type:      e.Type,
				Points:    e.Points,
				Remaining: e.Points,
				ExpiresAt: e.ExpiresAt,
				CreatedAt: e.CreatedAt,
			})
		case model.EntryRedeemed:
			p.Shortfall += p.consume(-e.Points, e.CreatedAt, "")
		case model.EntryExpired, model.EntryReversed:
			p.Shortfall += p.consume(-e.Points, e.CreatedAt, e.SourceEntryID)
		}
	}
	return p
}

// consume draws amount points and returns what could not be drawn.
func (p *Position) consume(amount int64, at time.Time, sourceID string) int64 {
	if amount <= 0 {
		return 0
	}
	if sourceID != "" {
		for i := range p.Batches {
			if p.Batches[i].EntryID == sourceID {
				amount -= p.Batches[i].take(amount)
				break
			}
		}
	}
	for i := range p.Batches {
		if amount == 0 {
			break
		}
		if p.Batches[i].LapsedAt(at) {
			continue
		}
		amount -= p.Batches[i].take(amount)
	}
	return amount
}

func (b *Batch) take(amount int64) int64 {
	n := min(amount, b.Remaining)
	b.Remaining -= n
	return n
}

// Available is the spendable balance at now: the outstanding points of
// batches that have not lapsed. It is never negative.
func (p Position) Available(now time.Time) int64 {
	var sum int64
	for _, b := range p.Batches {
		if !b.LapsedAt(now) {
			sum += b.Remaining
		}
	}
	return max(sum-p.Shortfall, 0)
}

// Lapsed returns earned batches that have lapsed at now and still carry
// points an expiration entry has not yet written off.
func (p Position) Lapsed(now time.Time) []Batch {
	var out []Batch
	for _, b := range p.Batches {
		if b.Type == model.EntryEarned && b.Remaining > 0 && b.LapsedAt(now) {
			out = append(out, b)
		}
	}
	return out
}
