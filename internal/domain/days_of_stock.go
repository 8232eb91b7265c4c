package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// InfiniteDaysLiteral is how an infinite days-of-stock value is rendered everywhere.
const InfiniteDaysLiteral = "∞"

// DaysOfStock is either a finite number of days or Infinite (nothing sells).
// The zero value is Finite(0).
type DaysOfStock struct {
	days     decimal.Decimal
	infinite bool
}

// FiniteDays wraps a finite days-of-stock value.
func FiniteDays(days decimal.Decimal) DaysOfStock {
	return DaysOfStock{days: days}
}

// InfiniteDays is the value used when the daily sales average is zero.
func InfiniteDays() DaysOfStock {
	return DaysOfStock{infinite: true}
}

func (d DaysOfStock) IsInfinite() bool {
	return d.infinite
}

// Days returns the finite value; ok is false for Infinite.
func (d DaysOfStock) Days() (decimal.Decimal, bool) {
	if d.infinite {
		return decimal.Zero, false
	}
	return d.days, true
}

// Compare orders values with every finite value below Infinite.
func (d DaysOfStock) Compare(other DaysOfStock) int {
	switch {
	case d.infinite && other.infinite:
		return 0
	case d.infinite:
		return 1
	case other.infinite:
		return -1
	default:
		return d.days.Cmp(other.days)
	}
}

func (d DaysOfStock) Equal(other DaysOfStock) bool {
	return d.Compare(other) == 0
}

func (d DaysOfStock) String() string {
	if d.infinite {
		return InfiniteDaysLiteral
	}
	return d.days.StringFixed(2)
}

// ParseDaysOfStock accepts the output of String.
func ParseDaysOfStock(s string) (DaysOfStock, error) {
	if s == InfiniteDaysLiteral {
		return InfiniteDays(), nil
	}
	days, err := decimal.NewFromString(s)
	if err != nil {
		return DaysOfStock{}, fmt.Errorf("invalid days of stock %q: %w", s, err)
	}
	return FiniteDays(days), nil
}

// MarshalJSON always emits a string so Infinite can never be mistaken for a number.
func (d DaysOfStock) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DaysOfStock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("days of stock must be a string: %w", err)
	}
	parsed, err := ParseDaysOfStock(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
