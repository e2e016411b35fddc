package ad

import (
	"math"
)

// Eval is a forward mode automatic differentiation value: a scalar and its
// partial derivatives with respect to a fixed, ordered set of unknowns.
// Operations never alias the receiver's derivative storage.
type Eval struct {
	Value float64
	Deriv []float64
}

// Constant returns an Eval with n zero derivatives
func Constant(value float64, n int) Eval {
	return Eval{Value: value, Deriv: make([]float64, n)}
}

// Variable returns an Eval seeded as unknown idx among n unknowns
func Variable(value float64, n, idx int) Eval {
	e := Constant(value, n)
	e.Deriv[idx] = 1
	return e
}

// Size is the number of unknowns the derivative vector spans
func (a Eval) Size() int { return len(a.Deriv) }

// Derivative returns the partial derivative with respect to unknown idx
func (a Eval) Derivative(idx int) float64 { return a.Deriv[idx] }

// Clone returns a deep copy
func (a Eval) Clone() Eval {
	d := make([]float64, len(a.Deriv))
	copy(d, a.Deriv)
	return Eval{Value: a.Value, Deriv: d}
}

func (a Eval) mustMatch(b Eval) {
	if len(a.Deriv) != len(b.Deriv) {
		panic("ad: derivative size mismatch")
	}
}

// Add returns a + b
func (a Eval) Add(b Eval) Eval {
	a.mustMatch(b)
	r := Constant(a.Value+b.Value, len(a.Deriv))
	for i := range r.Deriv {
		r.Deriv[i] = a.Deriv[i] + b.Deriv[i]
	}
	return r
}

// Sub returns a - b
func (a Eval) Sub(b Eval) Eval {
	a.mustMatch(b)
	r := Constant(a.Value-b.Value, len(a.Deriv))
	for i := range r.Deriv {
		r.Deriv[i] = a.Deriv[i] - b.Deriv[i]
	}
	return r
}

// Mul returns a * b
func (a Eval) Mul(b Eval) Eval {
	a.mustMatch(b)
	r := Constant(a.Value*b.Value, len(a.Deriv))
	for i := range r.Deriv {
		r.Deriv[i] = a.Deriv[i]*b.Value + a.Value*b.Deriv[i]
	}
	return r
}

// Div returns a / b
func (a Eval) Div(b Eval) Eval {
	a.mustMatch(b)
	r := Constant(a.Value/b.Value, len(a.Deriv))
	inv2 := 1 / (b.Value * b.Value)
	for i := range r.Deriv {
		r.Deriv[i] = (a.Deriv[i]*b.Value - a.Value*b.Deriv[i]) * inv2
	}
	return r
}

// Scale returns s * a
func (a Eval) Scale(s float64) Eval {
	r := Constant(a.Value*s, len(a.Deriv))
	for i := range r.Deriv {
		r.Deriv[i] = a.Deriv[i] * s
	}
	return r
}

// AddConst returns a + c
func (a Eval) AddConst(c float64) Eval {
	r := a.Clone()
	r.Value += c
	return r
}

// Neg returns -a
func (a Eval) Neg() Eval { return a.Scale(-1) }

// Sqrt returns the square root of a
func (a Eval) Sqrt() Eval {
	v := math.Sqrt(a.Value)
	r := Constant(v, len(a.Deriv))
	if v == 0 {
		return r
	}
	for i := range r.Deriv {
		r.Deriv[i] = a.Deriv[i] / (2 * v)
	}
	return r
}

// Extend embeds a's derivatives at offset within a derivative vector of
// size n, leaving all other entries zero.
func (a Eval) Extend(offset, n int) Eval {
	if offset+len(a.Deriv) > n {
		panic("ad: extension does not fit")
	}
	r := Constant(a.Value, n)
	copy(r.Deriv[offset:], a.Deriv)
	return r
}

// Sum returns the sum of the supplied values; n sizes the empty result.
func Sum(n int, terms ...Eval) Eval {
	r := Constant(0, n)
	for _, t := range terms {
		r = r.Add(t)
	}
	return r
}
