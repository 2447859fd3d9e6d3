package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoyaltyProgram struct {
	BusinessID            string
	PointsPerCurrencyUnit decimal.Decimal
	// PointsExpirationDays is nil when points never expire.
	PointsExpirationDays *int
	IsActive             bool
}

type EntryType string

const (
	EntryEarned   EntryType = "earned"
	EntryRedeemed EntryType = "redeemed"
	EntryExpired  EntryType = "expired"
	EntryBonus    EntryType = "bonus"
	// EntryReversed offsets an earned entry whose appointment was cancelled after completion.
	EntryReversed EntryType = "reversed"
)

// LoyaltyPointsEntry is one signed row of the append-only points ledger.
type LoyaltyPointsEntry struct {
	ID            string
	BusinessID    string
	CustomerID    string
	AppointmentID string
	RedemptionID  string
	SourceEntryID string
	Points        int64
	Type          EntryType
	ExpiresAt     *time.Time
	Description   string
	CreatedAt     time.Time
}

type LoyaltyReward struct {
	ID             string
	BusinessID     string
	Name           string
	PointsRequired int64
	// QuantityAvailable is nil for unlimited stock.
	QuantityAvailable *int
	IsActive          bool
}

type RedemptionStatus string

const (
	RedemptionPending  RedemptionStatus = "pending"
	RedemptionApproved RedemptionStatus = "approved"
	RedemptionUsed     RedemptionStatus = "used"
)

type Redemption struct {
	ID         string
	BusinessID string
	CustomerID string
	RewardID   string
	PointsUsed int64
	Status     RedemptionStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
