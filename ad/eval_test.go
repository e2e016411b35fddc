package ad

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvalArithmetic(t *testing.T) {
	x := Variable(3, 2, 0)
	y := Variable(4, 2, 1)

	t.Run("product rule", func(t *testing.T) {
		p := x.Mul(y)
		assert.Equal(t, 12.0, p.Value)
		assert.Equal(t, []float64{4, 3}, p.Deriv)
	})

	t.Run("quotient rule", func(t *testing.T) {
		q := x.Div(y)
		assert.InDelta(t, 0.75, q.Value, 1e-15)
		assert.InDelta(t, 0.25, q.Deriv[0], 1e-15)
		assert.InDelta(t, -3.0/16.0, q.Deriv[1], 1e-15)
	})

	t.Run("sqrt of sum of squares", func(t *testing.T) {
		r := x.Mul(x).Add(y.Mul(y)).Sqrt()
		assert.InDelta(t, 5.0, r.Value, 1e-14)
		assert.InDelta(t, 0.6, r.Deriv[0], 1e-14)
		assert.InDelta(t, 0.8, r.Deriv[1], 1e-14)
	})

	t.Run("operations do not alias", func(t *testing.T) {
		s := x.Scale(2)
		s.Deriv[0] = math.Pi
		assert.Equal(t, 1.0, x.Deriv[0])
		c := x.AddConst(1)
		c.Deriv[0] = 7
		assert.Equal(t, 1.0, x.Deriv[0])
	})
}

func TestEvalExtend(t *testing.T) {
	a := Variable(2, 2, 1)
	e := a.Extend(3, 6)
	assert.Equal(t, 2.0, e.Value)
	assert.Equal(t, []float64{0, 0, 0, 0, 1, 0}, e.Deriv)
	assert.Panics(t, func() { a.Extend(5, 6) })
}

func TestSum(t *testing.T) {
	s := Sum(2, Variable(1, 2, 0), Variable(2, 2, 1), Constant(3, 2))
	assert.Equal(t, 6.0, s.Value)
	assert.Equal(t, []float64{1, 1}, s.Deriv)
	assert.Panics(t, func() { Variable(1, 2, 0).Add(Variable(1, 3, 0)) })
}
