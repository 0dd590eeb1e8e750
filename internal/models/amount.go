package models

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// Amount is a non-negative value in wei. The zero value is 0.
// Amounts are immutable: no method modifies the receiver.
type Amount struct {
	v *big.Int
}

var weiPerEther = new(big.Int).SetUint64(params.Ether)

// NewAmount returns an amount of wei.
func NewAmount(wei int64) Amount {
	return Amount{v: big.NewInt(wei)}
}

// AmountFromBig copies b into an amount.
func AmountFromBig(b *big.Int) Amount {
	if b == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(b)}
}

// ParseAmount parses either an integer number of wei ("100000000000000000")
// or a decimal ether value with an "eth" suffix ("0.1eth").
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}

	lower := strings.ToLower(s)
	if strings.HasSuffix(lower, "eth") {
		return parseEther(strings.TrimSpace(strings.TrimSuffix(lower, "eth")))
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: invalid amount %q", ErrInvalidInput, s)
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	}
	return Amount{v: v}, nil
}

func parseEther(s string) (Amount, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Amount{}, fmt.Errorf("%w: invalid ether amount %q", ErrInvalidInput, s)
	}
	if r.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	if !r.IsInt() {
		return Amount{}, fmt.Errorf("%w: ether amount %q is finer than one wei", ErrInvalidInput, s)
	}
	return Amount{v: new(big.Int).Set(r.Num())}, nil
}

// MustParseAmount is ParseAmount for constants; it panics on malformed input.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the amount as a big integer.
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(a.int())
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.int().Cmp(b.int())
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	return a.int().Sign()
}

// IsZero reports whether the amount is 0.
func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

// String returns the amount in wei.
func (a Amount) String() string {
	return a.int().String()
}

// Ether formats the amount in ether without trailing zeros, e.g. "0.1".
func (a Amount) Ether() string {
	r := new(big.Rat).SetFrac(a.int(), weiPerEther)
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// MarshalText encodes the amount as a decimal string of wei, which keeps
// values above 2^53 intact in JSON clients.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts every form ParseAmount accepts.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalJSON also accepts bare JSON numbers of wei.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*a = Amount{}
		return nil
	}
	return a.UnmarshalText([]byte(s))
}

// Value stores the amount as a NUMERIC string.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan reads NUMERIC columns.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case int64:
		*a = NewAmount(v)
		return nil
	case []byte:
		return a.UnmarshalText(v)
	case string:
		return a.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
}
