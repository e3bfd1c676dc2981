// Package rank computes sortable position strings for user-ordered lists.
//
// A rank has the form "<bucket>|<mantissa>". The bucket is a single digit
// (0, 1 or 2) and the mantissa is a base-36 fraction 0.d1d2d3... written
// without its leading "0.". Ranks order first by bucket and then by mantissa
// as a plain byte-wise string, so storage only needs ordinal collation.
// Because the mantissa is a fraction it is never left-padded, and a strictly
// smaller value always yields a strictly smaller string, whatever the
// lengths involved. Trailing zeros do not change the value but do change
// the bytes: "0|i" sorts before "0|i0", and the engine honours that order.
//
// The package is pure: every function depends only on its arguments.
package rank

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Radix of the mantissa digits.
	Radix = 36

	separator = '|'
)

var (
	// ErrMalformed is returned for strings outside the rank grammar.
	ErrMalformed = errors.New("malformed rank")
	// ErrInvalidOrder is returned when the lower bound does not sort strictly
	// before the upper bound.
	ErrInvalidOrder = errors.New("rank bounds out of order")
)

// Bucket partitions the rank space. Rebalancing moves a whole scope into the
// next bucket.
type Bucket byte

const (
	Bucket0 Bucket = '0'
	Bucket1 Bucket = '1'
	Bucket2 Bucket = '2'
)

func (b Bucket) valid() bool {
	return b == Bucket0 || b == Bucket1 || b == Bucket2
}

func (b Bucket) String() string {
	return string(rune(b))
}

// NextBucket rotates 0 -> 1 -> 2 -> 0.
func NextBucket(b Bucket) Bucket {
	switch b {
	case Bucket0:
		return Bucket1
	case Bucket1:
		return Bucket2
	default:
		return Bucket0
	}
}

// ParseBucket accepts "0", "1" or "2".
func ParseBucket(s string) (Bucket, error) {
	if len(s) != 1 || !Bucket(s[0]).valid() {
		return 0, fmt.Errorf("%w: bucket %q", ErrMalformed, s)
	}
	return Bucket(s[0]), nil
}

// Rank is a parsed rank value. The zero value is not a valid rank.
type Rank struct {
	bucket   Bucket
	mantissa string
}

// Parse validates s against the rank grammar.
func Parse(s string) (Rank, error) {
	if len(s) < 3 || s[1] != separator {
		return Rank{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	bucket := Bucket(s[0])
	if !bucket.valid() {
		return Rank{}, fmt.Errorf("%w: unknown bucket in %q", ErrMalformed, s)
	}
	mantissa := s[2:]
	nonZero := false
	for i := 0; i < len(mantissa); i++ {
		c := mantissa[i]
		if !isDigit(c) {
			return Rank{}, fmt.Errorf("%w: invalid digit %q in %q", ErrMalformed, c, s)
		}
		if c != '0' {
			nonZero = true
		}
	}
	if !nonZero {
		return Rank{}, fmt.Errorf("%w: zero mantissa in %q", ErrMalformed, s)
	}
	return Rank{bucket: bucket, mantissa: mantissa}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Rank {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

func isDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
}

func (r Rank) String() string {
	if r.IsZero() {
		return ""
	}
	var b strings.Builder
	b.Grow(len(r.mantissa) + 2)
	b.WriteByte(byte(r.bucket))
	b.WriteByte(separator)
	b.WriteString(r.mantissa)
	return b.String()
}

func (r Rank) IsZero() bool {
	return r.bucket == 0
}

func (r Rank) Bucket() Bucket {
	return r.bucket
}

func (r Rank) Mantissa() string {
	return r.mantissa
}

// Precision is the number of mantissa digits.
func (r Rank) Precision() int {
	return len(r.mantissa)
}

// Compare orders by bucket, then by mantissa bytes. It agrees with
// strings.Compare on the String() forms.
func (r Rank) Compare(o Rank) int {
	switch {
	case r.bucket < o.bucket:
		return -1
	case r.bucket > o.bucket:
		return 1
	}
	return strings.Compare(r.mantissa, o.mantissa)
}

func (r Rank) Less(o Rank) bool {
	return r.Compare(o) < 0
}

// MarshalText lets ranks travel as plain JSON strings.
func (r Rank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rank) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
