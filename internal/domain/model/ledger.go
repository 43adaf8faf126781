package model

import (
	"time"

	"telegram-image-generation/internal/domain"
)

// Monetary quantities are integer credits: 1 USD = 1000 credits.

type EntryType string

const (
	EntryDeposit          EntryType = "deposit"
	EntryGenerationCharge EntryType = "generation_charge"
	EntryGenerationRefund EntryType = "generation_refund"
	EntryReferralBonus    EntryType = "referral_bonus"
	EntryTrialGrant       EntryType = "trial_grant"
	EntryAdminAdjustment  EntryType = "admin_adjustment"
)

// LedgerEntry is an append-only posting. The user's balance is never stored;
// it is always the sum of their entries. At most one entry may exist per
// (user, entry_type, reference_id) triple, which is what makes refunds,
// deposits and bonuses safely repeatable.
type LedgerEntry struct {
	ID          string
	UserID      string
	Amount      int64 // credit delta, negative for debits
	EntryType   EntryType
	ReferenceID string
	Description string
	CreatedAt   time.Time
}

func NewLedgerEntry(id, userID string, amount int64, typ EntryType, referenceID, description string) (*LedgerEntry, error) {
	if userID == "" || referenceID == "" || typ == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &LedgerEntry{
		ID:          id,
		UserID:      userID,
		Amount:      amount,
		EntryType:   typ,
		ReferenceID: referenceID,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// RefundReference is the idempotency handle used for compensating a charge.
func RefundReference(requestID string) string { return "refund_" + requestID }
