package exchange

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/wattex/internal/models"
)

// FeeFactors are optional grid-fee multipliers. An invalid (absent) factor
// counts as 1.
type FeeFactors struct {
	Distance   decimal.NullDecimal
	Congestion decimal.NullDecimal
}

// FeeFactorsFunc supplies the multipliers for a buyer/seller pair
type FeeFactorsFunc func(buyer, seller string) FeeFactors

// GridFee computes notional * rateBps / 10000 * distance * congestion,
// rounded down to the integer fee unit.
func GridFee(notional, rateBps uint64, f FeeFactors) (uint64, error) {
	fee := fromUint(notional).Mul(fromUint(rateBps)).Shift(-4)
	for _, m := range []decimal.NullDecimal{f.Distance, f.Congestion} {
		if !m.Valid {
			continue
		}
		if m.Decimal.IsNegative() {
			return 0, fmt.Errorf("fee multiplier %s: %w", m.Decimal, models.ErrInvalidAmount)
		}
		fee = fee.Mul(m.Decimal)
	}
	b := fee.Floor().BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("grid fee on %d: %w", notional, models.ErrOverflow)
	}
	return b.Uint64(), nil
}

func fromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
