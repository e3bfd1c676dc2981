package rank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	DefaultBasePrecision = 6
	DefaultStep          = 8
)

// Mode names which of the four placement rules Compute applied.
type Mode string

const (
	ModeMiddle  Mode = "middle"
	ModeNext    Mode = "next"
	ModePrev    Mode = "prev"
	ModeBetween Mode = "between"
)

// ModeFor reports the placement rule for a pair of raw neighbour values.
func ModeFor(before, after string) Mode {
	switch {
	case before == "" && after == "":
		return ModeMiddle
	case before == "":
		return ModeNext
	case after == "":
		return ModePrev
	default:
		return ModeBetween
	}
}

// Config tunes generated ranks. BasePrecision is the minimum number of
// mantissa digits written; Step is how many units of the working precision
// Next and Prev move away from their neighbour.
type Config struct {
	BasePrecision int
	Step          int64
}

func DefaultConfig() Config {
	return Config{BasePrecision: DefaultBasePrecision, Step: DefaultStep}
}

func (c Config) Validate() error {
	if c.BasePrecision < 1 {
		return errors.New("rank base precision must be at least 1")
	}
	if c.Step < 1 {
		return errors.New("rank step must be at least 1")
	}
	return nil
}

// Engine computes ranks. It holds only immutable configuration, so a single
// Engine can serve every ordering scope from any number of goroutines.
type Engine struct {
	cfg  Config
	step *big.Int
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, step: big.NewInt(cfg.Step)}, nil
}

var defaultEngine = mustNew(DefaultConfig())

func mustNew(cfg Config) *Engine {
	e, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// Default returns the engine built from DefaultConfig.
func Default() *Engine {
	return defaultEngine
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Compute is the placement entry point used by callers that hold raw column
// values. before is the rank of the item that will follow the new position
// and after is the rank of the item that will precede it; an empty string
// means there is no such neighbour.
func (e *Engine) Compute(before, after string) (Rank, error) {
	switch ModeFor(before, after) {
	case ModeMiddle:
		return e.Middle(), nil
	case ModeNext:
		lo, err := Parse(after)
		if err != nil {
			return Rank{}, err
		}
		return e.Next(lo), nil
	case ModePrev:
		hi, err := Parse(before)
		if err != nil {
			return Rank{}, err
		}
		return e.Prev(hi), nil
	}
	lo, err := Parse(after)
	if err != nil {
		return Rank{}, err
	}
	hi, err := Parse(before)
	if err != nil {
		return Rank{}, err
	}
	return e.Between(lo, hi)
}

// Middle is the anchor rank handed out for an empty list.
func (e *Engine) Middle() Rank {
	return e.MiddleOf(Bucket0)
}

func (e *Engine) MiddleOf(bucket Bucket) Rank {
	p := e.cfg.BasePrecision
	v := new(big.Int).Rsh(pow36(p), 1)
	return e.format(bucket, v, p)
}

// Min is the smallest rank of bucket at the base precision.
func (e *Engine) Min(bucket Bucket) Rank {
	return e.format(bucket, big.NewInt(1), e.cfg.BasePrecision)
}

// Max is the largest rank of bucket at the base precision.
func (e *Engine) Max(bucket Bucket) Rank {
	v := new(big.Int).Sub(pow36(e.cfg.BasePrecision), bigOne)
	return e.format(bucket, v, e.cfg.BasePrecision)
}

// Next returns the smallest rank above lo at the coarsest precision (never
// below the base precision) that still leaves Step units of headroom.
func (e *Engine) Next(lo Rank) Rank {
	for p := e.cfg.BasePrecision; ; p++ {
		v, _ := scaled(lo.mantissa, p)
		v.Add(v, e.step)
		if v.Cmp(pow36(p)) < 0 {
			return e.format(lo.bucket, v, p)
		}
	}
}

// Prev mirrors Next below hi.
func (e *Engine) Prev(hi Rank) Rank {
	for p := e.cfg.BasePrecision; ; p++ {
		v, inexact := scaled(hi.mantissa, p)
		if inexact {
			v.Add(v, bigOne)
		}
		v.Sub(v, e.step)
		if v.Sign() > 0 {
			return e.format(hi.bucket, v, p)
		}
	}
}

// Between returns a rank strictly inside (lo, hi). It takes the exact
// midpoint and keeps only as many digits as are needed to stay above lo.
func (e *Engine) Between(lo, hi Rank) (Rank, error) {
	if lo.IsZero() || hi.IsZero() {
		return Rank{}, fmt.Errorf("%w: empty bound", ErrMalformed)
	}
	if lo.Compare(hi) >= 0 {
		return Rank{}, fmt.Errorf("%w: %s is not before %s", ErrInvalidOrder, lo, hi)
	}
	if lo.bucket != hi.bucket {
		return e.Next(lo), nil
	}

	n := max(len(lo.mantissa), len(hi.mantissa)) + 1
	a, _ := scaled(lo.mantissa, n)
	b, _ := scaled(hi.mantissa, n)
	if a.Cmp(b) >= 0 {
		return zeroRun(lo, hi)
	}

	// n exceeds both lengths, so a and b are multiples of 36 and the
	// midpoint is exact.
	mid := new(big.Int).Add(a, b)
	mid.Rsh(mid, 1)

	t := new(big.Int)
	back := new(big.Int)
	for p := 1; p < n; p++ {
		unit := pow36(n - p)
		t.Quo(mid, unit)
		back.Mul(t, unit)
		if back.Cmp(a) > 0 {
			return e.format(lo.bucket, t, p), nil
		}
	}
	return e.format(lo.bucket, mid, n), nil
}

// zeroRun handles bounds of equal value where hi is lo with trailing zeros
// appended. Only a shorter run of zeros sorts between them, so "0|i" and
// "0|i0" are adjacent while "0|i" and "0|i000" admit "0|i0".
func zeroRun(lo, hi Rank) (Rank, error) {
	extra := len(hi.mantissa) - len(lo.mantissa)
	if extra < 2 || strings.TrimRight(hi.mantissa[len(lo.mantissa):], "0") != "" || !strings.HasPrefix(hi.mantissa, lo.mantissa) {
		return Rank{}, fmt.Errorf("%w: no rank fits between %s and %s", ErrInvalidOrder, lo, hi)
	}
	return Rank{bucket: lo.bucket, mantissa: lo.mantissa + strings.Repeat("0", extra/2)}, nil
}

// Spread returns n strictly increasing ranks evenly spaced across bucket,
// each at least Step units apart at the chosen precision.
func (e *Engine) Spread(bucket Bucket, n int) ([]Rank, error) {
	if !bucket.valid() {
		return nil, fmt.Errorf("%w: bucket %q", ErrMalformed, bucket.String())
	}
	if n <= 0 {
		return nil, nil
	}
	slots := big.NewInt(int64(n) + 1)
	need := new(big.Int).Mul(slots, e.step)
	p := e.cfg.BasePrecision
	for pow36(p).Cmp(need) < 0 {
		p++
	}
	gap := new(big.Int).Quo(pow36(p), slots)

	out := make([]Rank, n)
	v := new(big.Int)
	for i := range out {
		v.Add(v, gap)
		out[i] = e.format(bucket, v, p)
	}
	return out, nil
}

// format writes v as a p-digit fraction, drops trailing zeros and pads back
// up to the base precision.
func (e *Engine) format(bucket Bucket, v *big.Int, p int) Rank {
	s := v.Text(Radix)
	if len(s) < p {
		s = strings.Repeat("0", p-len(s)) + s
	}
	s = strings.TrimRight(s, "0")
	if len(s) < e.cfg.BasePrecision {
		s += strings.Repeat("0", e.cfg.BasePrecision-len(s))
	}
	return Rank{bucket: bucket, mantissa: s}
}

var bigOne = big.NewInt(1)

// scaled returns floor(mantissa * 36^p) and whether digits were dropped.
func scaled(mantissa string, p int) (*big.Int, bool) {
	head := mantissa
	inexact := false
	if len(head) > p {
		inexact = strings.TrimRight(head[p:], "0") != ""
		head = head[:p]
	}
	v, ok := new(big.Int).SetString(head, Radix)
	if !ok {
		// Parse already rejected anything SetString cannot read.
		panic("rank: unparsable mantissa " + mantissa)
	}
	if len(head) < p {
		v.Mul(v, pow36(p-len(head)))
	}
	return v, inexact
}

func pow36(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(Radix), big.NewInt(int64(n)), nil)
}

// Package-level helpers run on the default engine.

func Compute(before, after string) (Rank, error) { return defaultEngine.Compute(before, after) }
func Middle() Rank                               { return defaultEngine.Middle() }
func Min(bucket Bucket) Rank                     { return defaultEngine.Min(bucket) }
func Max(bucket Bucket) Rank                     { return defaultEngine.Max(bucket) }
func Next(lo Rank) Rank                          { return defaultEngine.Next(lo) }
func Prev(hi Rank) Rank                          { return defaultEngine.Prev(hi) }
func Between(lo, hi Rank) (Rank, error)          { return defaultEngine.Between(lo, hi) }
