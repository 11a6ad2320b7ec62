package item

import (
	"fmt"
	"math/big"
	"regexp"
)

var numberPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Number is an exact decimal version number such as 1, 2 or 1.5.
// The zero value is version 0, the unversioned entry.
type Number struct {
	text string
	r    *big.Rat
}

// ParseNumber parses "N" or "N.M"
func ParseNumber(s string) (Number, error) {
	if !numberPattern.MatchString(s) {
		return Number{}, fmt.Errorf("invalid version number %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Number{}, fmt.Errorf("invalid version number %q", s)
	}
	return Number{text: s, r: r}, nil
}

// MustNumber parses s and panics on error. Intended for literals.
func MustNumber(s string) Number {
	n, err := ParseNumber(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Number) rat() *big.Rat {
	if n.r == nil {
		return new(big.Rat)
	}
	return n.r
}

// Cmp compares two numbers numerically
func (n Number) Cmp(o Number) int {
	return n.rat().Cmp(o.rat())
}

// IsZero reports whether n is version 0
func (n Number) IsZero() bool {
	return n.rat().Sign() == 0
}

// IsMajorStepFrom reports whether n is at least one whole version above prev.
func (n Number) IsMajorStepFrom(prev Number) bool {
	delta := new(big.Rat).Sub(n.rat(), prev.rat())
	return delta.Cmp(big.NewRat(1, 1)) >= 0
}

// Key is a canonical form usable as a map key; 1.50 and 1.5 share a key.
func (n Number) Key() string {
	return n.rat().RatString()
}

func (n Number) String() string {
	if n.text == "" {
		return "0"
	}
	return n.text
}

// MarshalText renders the number as written
func (n Number) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText parses a version number
func (n *Number) UnmarshalText(b []byte) error {
	parsed, err := ParseNumber(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
