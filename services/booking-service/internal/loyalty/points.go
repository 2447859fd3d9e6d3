package loyalty

import "github.com/shopspring/decimal"

// PointsFor is floor(price × rate).
func PointsFor(price, rate decimal.Decimal) int64 {
	return price.Mul(rate).Floor().IntPart()
}
