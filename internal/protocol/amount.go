package protocol

import "github.com/shopspring/decimal"

// unit is UNIT expressed as a decimal for exact fixed-point math.
var unitDecimal = decimal.NewFromInt(UNIT)

// DecimalToBaseUnits converts a decimal token amount (as returned by the
// chain client, which reports balances/values as decimal strings) to
// integer base units, rounding half-even as required by §6.
func DecimalToBaseUnits(value decimal.Decimal) int64 {
	return value.Mul(unitDecimal).RoundBank(0).IntPart()
}

// FloatToBaseUnits is a convenience wrapper for float64 inputs (the chain
// client's getrawtransaction reports vout values as JSON numbers).
func FloatToBaseUnits(value float64) int64 {
	return DecimalToBaseUnits(decimal.NewFromFloat(value))
}
