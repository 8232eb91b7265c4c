package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// LiquidityStatus classifies days of stock. The zero value is not a valid status.
type LiquidityStatus uint8

const (
	LiquidityCritical LiquidityStatus = iota + 1
	LiquidityLow
	LiquidityNormal
	LiquidityExcess
)

// LiquidityStatuses lists every status in ascending order of days of stock.
var LiquidityStatuses = []LiquidityStatus{
	LiquidityCritical,
	LiquidityLow,
	LiquidityNormal,
	LiquidityExcess,
}

func (s LiquidityStatus) String() string {
	switch s {
	case LiquidityCritical:
		return "critical"
	case LiquidityLow:
		return "low"
	case LiquidityNormal:
		return "normal"
	case LiquidityExcess:
		return "excess"
	default:
		return fmt.Sprintf("LiquidityStatus(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the four declared statuses.
func (s LiquidityStatus) Valid() bool {
	switch s {
	case LiquidityCritical, LiquidityLow, LiquidityNormal, LiquidityExcess:
		return true
	default:
		return false
	}
}

// ParseLiquidityStatus parses a status label (case-insensitive).
func ParseLiquidityStatus(label string) (LiquidityStatus, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "critical":
		return LiquidityCritical, nil
	case "low":
		return LiquidityLow, nil
	case "normal":
		return LiquidityNormal, nil
	case "excess":
		return LiquidityExcess, nil
	default:
		return 0, fmt.Errorf("unknown liquidity status %q", label)
	}
}

func (s LiquidityStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid liquidity status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *LiquidityStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseLiquidityStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value stores the status as its label.
func (s LiquidityStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot store invalid liquidity status %d", uint8(s))
	}
	return s.String(), nil
}

// Scan reads a status label from the database.
func (s *LiquidityStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into LiquidityStatus", src)
	}
}
