package enums

import "fmt"

// LedgerEntryKind maps to the ledger_entry_kind enum in Postgres.
type LedgerEntryKind string

const (
	LedgerEntryCapture LedgerEntryKind = "capture"
	LedgerEntryRelease LedgerEntryKind = "release"
	LedgerEntryRefund  LedgerEntryKind = "refund"
)

var validLedgerEntryKinds = []LedgerEntryKind{
	LedgerEntryCapture,
	LedgerEntryRelease,
	LedgerEntryRefund,
}

func (k LedgerEntryKind) IsValid() bool {
	for _, candidate := range validLedgerEntryKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseLedgerEntryKind(value string) (LedgerEntryKind, error) {
	for _, candidate := range validLedgerEntryKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry kind %q", value)
}
