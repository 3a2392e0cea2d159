package model

import (
	"time"
)

type EntryKind string

const (
	EntryKindTransaction   EntryKind = "transaction"
	EntryKindFloatMovement EntryKind = "float_movement"
	EntryKindAdjustment    EntryKind = "adjustment"
)

// JournalEntry is one row of the merged replay stream. Exactly one of the
// pointer fields is set, matching Kind.
type JournalEntry struct {
	Kind            EntryKind
	Seq             int64
	TransactionDate time.Time

	Transaction   *Transaction
	FloatMovement *FloatMovement
	Adjustment    *BalanceAdjustment
}

func (e JournalEntry) ProviderID() string {
	switch e.Kind {
	case EntryKindTransaction:
		return e.Transaction.ProviderID
	case EntryKindFloatMovement:
		return e.FloatMovement.ProviderID
	case EntryKindAdjustment:
		return e.Adjustment.ProviderID
	}
	return ""
}

func (e JournalEntry) Category() Category {
	switch e.Kind {
	case EntryKindTransaction:
		return e.Transaction.Category
	case EntryKindFloatMovement:
		return e.FloatMovement.Category
	case EntryKindAdjustment:
		return e.Adjustment.Category
	}
	return ""
}

func (e JournalEntry) Delta() BalanceDelta {
	switch e.Kind {
	case EntryKindTransaction:
		return e.Transaction.Delta()
	case EntryKindFloatMovement:
		return e.FloatMovement.Delta()
	case EntryKindAdjustment:
		return e.Adjustment.BalanceDelta()
	}
	return BalanceDelta{}
}

// Before orders entries by transaction date, then by insertion sequence.
func (e JournalEntry) Before(other JournalEntry) bool {
	if !e.TransactionDate.Equal(other.TransactionDate) {
		return e.TransactionDate.Before(other.TransactionDate)
	}
	return e.Seq < other.Seq
}
