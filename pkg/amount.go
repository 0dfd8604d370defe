package bump

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

// All amounts inside the engine are btcutil.Amount (integer satoshis, the
// chain's minimal indivisible unit). Decimal BTC strings only appear at the
// API and Core-RPC boundaries, converted exactly via shopspring/decimal.

var satsPerCoin = decimal.NewFromInt(btcutil.SatoshiPerBitcoin)
var maxSatoshi = decimal.NewFromInt(btcutil.MaxSatoshi)

// SubtractFee returns total minus fee.
// Fails with InsufficientFunds when the fee consumes the entire value,
// so a draft can never be built with a zero or negative output.
func SubtractFee(total, fee btcutil.Amount) (btcutil.Amount, error) {
	if fee < 0 {
		return 0, NewErr(BadRequest, "fee cannot be negative: %v", fee)
	}
	if fee >= total {
		return 0, NewErr(InsufficientFunds,
			"fee of %v consumes the entire value %v", fee, total)
	}
	return total - fee, nil
}

// Split computes the send amount for an output funded by total and paying
// fee. Amounts are already whole satoshis, so no rounding is involved.
func Split(total, fee btcutil.Amount) (btcutil.Amount, error) {
	return SubtractFee(total, fee)
}

// SumAmounts adds amounts with an overflow guard (same idea as saturating
// CoinAmount arithmetic: never hand back a silently-wrapped value).
func SumAmounts(amounts ...btcutil.Amount) (btcutil.Amount, error) {
	var total btcutil.Amount
	for _, a := range amounts {
		if a < 0 {
			return 0, NewErr(BadRequest, "amount cannot be negative: %v", a)
		}
		if a > btcutil.MaxSatoshi-total {
			return 0, NewErr(BadRequest, "amount overflows MaxSatoshi")
		}
		total += a
	}
	return total, nil
}

// ParseBTC converts a decimal BTC string ("0.0001") to satoshis, exactly.
// Rejects sub-satoshi precision rather than rounding; the caller chose the
// number and should know it cannot be represented.
func ParseBTC(s string) (btcutil.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, NewErr(BadRequest, "invalid BTC amount %q: %v", s, err)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts a decimal BTC value (as Core returns them in
// JSON) to satoshis, exactly.
func AmountFromDecimal(d decimal.Decimal) (btcutil.Amount, error) {
	sats := d.Mul(satsPerCoin)
	if !sats.IsInteger() {
		return 0, NewErr(BadRequest, "BTC amount %s has sub-satoshi precision", d)
	}
	if sats.Sign() < 0 {
		return 0, NewErr(BadRequest, "BTC amount cannot be negative: %s", d)
	}
	if sats.Cmp(maxSatoshi) > 0 {
		return 0, NewErr(BadRequest, "BTC amount %s exceeds MaxSatoshi", d)
	}
	return btcutil.Amount(sats.IntPart()), nil
}

// FormatBTC renders satoshis as a decimal BTC string for API responses.
func FormatBTC(a btcutil.Amount) string {
	return decimal.New(int64(a), -8).String()
}
