// internal/math/fixedpoint.go
package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrMathError is returned by every checked primitive on overflow, underflow,
// division by zero or a narrowing cast that does not fit.
var ErrMathError = errors.New("math error")

func mathErr(op string, args ...interface{}) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: %s", ErrMathError, op)
	}
	return fmt.Errorf("%w: %s %v", ErrMathError, op, args)
}

// U128 is an unsigned 128-bit magnitude. The value is carried in a 256-bit
// word so intermediate products never wrap; every exported operation checks
// that the result still fits in 128 bits.
type U128 struct {
	v uint256.Int
}

var maxU128 = func() uint256.Int {
	var m uint256.Int
	m.Lsh(uint256.NewInt(1), 128)
	m.SubUint64(&m, 1)
	return m
}()

// NewU128 returns a U128 holding x.
func NewU128(x uint64) U128 {
	var u U128
	u.v.SetUint64(x)
	return u
}

// MaxU128 returns 2^128 - 1.
func MaxU128() U128 {
	return U128{v: maxU128}
}

// ParseU128 parses a base-10 string.
func ParseU128(s string) (U128, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return U128{}, fmt.Errorf("parse u128 %q: %w", s, err)
	}
	if v.BitLen() > 128 {
		return U128{}, mathErr("parse overflow", s)
	}
	return U128{v: *v}, nil
}

// MustU128 parses s and panics on failure. Only for constants and tests.
func MustU128(s string) U128 {
	u, err := ParseU128(s)
	if err != nil {
		panic(err)
	}
	return u
}

// U128FromBig converts a non-negative big.Int.
func U128FromBig(b *big.Int) (U128, error) {
	if b.Sign() < 0 {
		return U128{}, mathErr("negative", b)
	}
	v, overflow := uint256.FromBig(b)
	if overflow || v.BitLen() > 128 {
		return U128{}, mathErr("from big overflow", b)
	}
	return U128{v: *v}, nil
}

func fit(op string, z *uint256.Int, overflow bool) (U128, error) {
	if overflow || z.BitLen() > 128 {
		return U128{}, mathErr(op + " overflow")
	}
	return U128{v: *z}, nil
}

// SafeAdd returns a + b.
func (a U128) SafeAdd(b U128) (U128, error) {
	var z uint256.Int
	_, overflow := z.AddOverflow(&a.v, &b.v)
	return fit("add", &z, overflow)
}

// SafeSub returns a - b, failing when b > a.
func (a U128) SafeSub(b U128) (U128, error) {
	var z uint256.Int
	if _, underflow := z.SubOverflow(&a.v, &b.v); underflow {
		return U128{}, mathErr("sub underflow", a.String(), b.String())
	}
	return U128{v: z}, nil
}

// SafeMul returns a * b.
func (a U128) SafeMul(b U128) (U128, error) {
	var z uint256.Int
	_, overflow := z.MulOverflow(&a.v, &b.v)
	return fit("mul", &z, overflow)
}

// SafeDiv returns a / b truncated toward zero.
func (a U128) SafeDiv(b U128) (U128, error) {
	if b.v.IsZero() {
		return U128{}, mathErr("div by zero")
	}
	var z uint256.Int
	z.Div(&a.v, &b.v)
	return U128{v: z}, nil
}

// SafeAddUint64, SafeMulUint64 and SafeDivUint64 are shorthands for an
// operand that fits in a machine word.
func (a U128) SafeAddUint64(b uint64) (U128, error) { return a.SafeAdd(NewU128(b)) }
func (a U128) SafeMulUint64(b uint64) (U128, error) { return a.SafeMul(NewU128(b)) }
func (a U128) SafeDivUint64(b uint64) (U128, error) { return a.SafeDiv(NewU128(b)) }

// Sqrt returns floor(sqrt(a)).
func (a U128) Sqrt() U128 {
	var z uint256.Int
	z.Sqrt(&a.v)
	return U128{v: z}
}

// CastU32 narrows to uint32.
func (a U128) CastU32() (uint32, error) {
	if !a.v.IsUint64() || a.v.Uint64() > 0xFFFF_FFFF {
		return 0, mathErr("cast u32 overflow", a.String())
	}
	return uint32(a.v.Uint64()), nil
}

// CastU64 narrows to uint64.
func (a U128) CastU64() (uint64, error) {
	if !a.v.IsUint64() {
		return 0, mathErr("cast u64 overflow", a.String())
	}
	return a.v.Uint64(), nil
}

func (a U128) Cmp(b U128) int { return a.v.Cmp(&b.v) }
func (a U128) Lt(b U128) bool { return a.v.Lt(&b.v) }
func (a U128) Gt(b U128) bool { return a.v.Gt(&b.v) }
func (a U128) Eq(b U128) bool { return a.v.Eq(&b.v) }
func (a U128) IsZero() bool { return a.v.IsZero() }
func (a U128) String() string { return a.v.Dec() }
func (a U128) ToBig() *big.Int { return a.v.ToBig() }
func (a U128) BitLen() int { return a.v.BitLen() }

// Limbs returns the low and high 64-bit halves, used for canonical
// little-endian encodings.
func (a U128) Limbs() (lo, hi uint64) {
	return a.v[0], a.v[1]
}

// Min returns the smaller of a and b.
func Min(a, b U128) U128 {
	if a.Lt(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b U128) U128 {
	if a.Gt(b) {
		return a
	}
	return b
}

// Pow10 returns 10^exp, failing past 10^38.
func Pow10(exp uint32) (U128, error) {
	if exp > 38 {
		return U128{}, mathErr("pow10 overflow", exp)
	}
	result := NewU128(1)
	ten := NewU128(10)
	for i := uint32(0); i < exp; i++ {
		var err error
		if result, err = result.SafeMul(ten); err != nil {
			return U128{}, err
		}
	}
	return result, nil
}

// Log10 returns floor(log10(a)) for a > 0 and 0 for a == 0.
func Log10(a U128) uint32 {
	var n uint32
	ten := uint256.NewInt(10)
	v := a.v
	for !v.Lt(ten) {
		v.Div(&v, ten)
		n++
	}
	return n
}

// MarshalText encodes the value as a base-10 string so JSON documents never
// lose precision to float64.
func (a U128) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

func (a *U128) UnmarshalText(text []byte) error {
	parsed, err := ParseU128(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Unsigned is the set of fixed-width integers the scalar helpers accept.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// SafeAddU returns a + b for a fixed-width unsigned type.
func SafeAddU[T Unsigned](a, b T) (T, error) {
	c := a + b
	if c < a {
		return 0, mathErr("add overflow", a, b)
	}
	return c, nil
}

// SafeSubU returns a - b, failing when b > a.
func SafeSubU[T Unsigned](a, b T) (T, error) {
	if b > a {
		return 0, mathErr("sub underflow", a, b)
	}
	return a - b, nil
}

// SafeMulU returns a * b for a fixed-width unsigned type.
func SafeMulU[T Unsigned](a, b T) (T, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a {
		return 0, mathErr("mul overflow", a, b)
	}
	return c, nil
}

// SafeDivU returns a / b truncated toward zero.
func SafeDivU[T Unsigned](a, b T) (T, error) {
	if b == 0 {
		return 0, mathErr("div by zero", a)
	}
	return a / b, nil
}
