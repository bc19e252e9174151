package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/apperr"
)

const moneyScale = 2

// Money is a non-negative amount rounded to two fractional digits.
// Arithmetic always returns a new rounded value.
type Money struct {
	amount decimal.Decimal
}

// NewMoney rounds d to cents and rejects negative amounts.
func NewMoney(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return Money{}, apperr.InvalidArgument("money amount must not be negative, got %s", d.String())
	}
	return Money{amount: d.Round(moneyScale)}, nil
}

// ParseMoney parses a decimal string such as "29.99".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, apperr.InvalidArgument("invalid money amount %q", s)
	}
	return NewMoney(d)
}

// MustMoney is ParseMoney for literals known to be valid.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney() Money {
	return Money{amount: decimal.Zero}
}

func (m Money) Add(other Money) Money {
	// both operands are non-negative, so the sum is too
	return Money{amount: m.amount.Add(other.amount).Round(moneyScale)}
}

func (m Money) Multiply(quantity int) (Money, error) {
	return NewMoney(m.amount.Mul(decimal.NewFromInt(int64(quantity))))
}

func (m Money) Decimal() decimal.Decimal { return m.amount }

func (m Money) IsZero() bool { return m.amount.IsZero() }

func (m Money) Equal(other Money) bool { return m.amount.Equal(other.amount) }

func (m Money) String() string { return m.amount.StringFixed(moneyScale) }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("failed to decode money: %w", err)
	}
	parsed, err := NewMoney(d)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores Money as a NUMERIC-compatible string.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

func (m *Money) Scan(value any) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("failed to scan money: %w", err)
	}
	parsed, err := NewMoney(d)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
