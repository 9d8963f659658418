package validators

import (
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// ParseMoneyCents converts a decimal amount such as "4.50" into cents. More
// than two fractional digits or a negative amount is rejected.
func ParseMoneyCents(field, raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount").WithDetails(map[string]any{"field": field})
	}
	if amount.IsNegative() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative").WithDetails(map[string]any{"field": field})
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount has more than two decimals").WithDetails(map[string]any{"field": field})
	}
	return amount.Mul(hundred).IntPart(), nil
}

// FormatCents renders cents as a fixed two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
