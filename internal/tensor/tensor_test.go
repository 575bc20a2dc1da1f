package tensor

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRows(t *testing.T, rows [][]float64) *Dense {
	t.Helper()
	d, err := FromRows(rows)
	require.NoError(t, err)
	return d
}

func TestFromRowsColumnMajor(t *testing.T) {
	a := mustRows(t, [][]float64{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, NewShape(2, 3), a.Shape())
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, a.Data())
	assert.Equal(t, 6.0, a.At(1, 2))
}

func TestNewLengthMismatch(t *testing.T) {
	_, err := New(2, 2, []float64{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShape))
}

func TestElementwiseScalarExpansion(t *testing.T) {
	a := mustRows(t, [][]float64{{1, 2}, {3, 4}})

	got, err := Mul(a, Scalar(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 6, 4, 8}, got.Data())

	got, err = Sub(Scalar(10), a)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 7, 8, 6}, got.Data())
}

func TestElementwiseMismatch(t *testing.T) {
	_, err := Add(Zeros(NewShape(2, 1)), Zeros(NewShape(3, 1)))
	var se *ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "add", se.Op)
	assert.ErrorIs(t, err, ErrShape)
}

func TestMatMul(t *testing.T) {
	a := mustRows(t, [][]float64{{1, 2, 3}, {4, 5, 6}})
	b := mustRows(t, [][]float64{{1, 0}, {0, 1}, {1, 1}})
	c, err := MatMul(a, b)
	require.NoError(t, err)
	want := mustRows(t, [][]float64{{4, 5}, {10, 11}})
	assert.True(t, AllClose(c, want, 0, 1e-15), "got %v", c)

	_, err = MatMul(a, a)
	assert.ErrorIs(t, err, ErrShape)
}

func TestMatMulEmpty(t *testing.T) {
	c, err := MatMul(Zeros(NewShape(0, 3)), Zeros(NewShape(3, 2)))
	require.NoError(t, err)
	assert.Equal(t, NewShape(0, 2), c.Shape())

	c, err = MatMul(Zeros(NewShape(2, 0)), Zeros(NewShape(0, 2)))
	require.NoError(t, err)
	assert.True(t, c.IsZero())
}

func TestTransposeReshape(t *testing.T) {
	a := mustRows(t, [][]float64{{1, 2, 3}, {4, 5, 6}})
	at := Transpose(a)
	assert.Equal(t, NewShape(3, 2), at.Shape())
	assert.Equal(t, 4.0, at.At(0, 1))

	r, err := Reshape(a, NewShape(3, 2))
	require.NoError(t, err)
	assert.Equal(t, a.Data(), r.Data())

	_, err = Reshape(a, NewShape(4, 2))
	assert.ErrorIs(t, err, ErrShape)
}

func TestConcatBlockEmbed(t *testing.T) {
	a := mustRows(t, [][]float64{{1, 2}, {3, 4}})
	b := mustRows(t, [][]float64{{5, 6}})

	v, err := Vertcat(a, b)
	require.NoError(t, err)
	assert.Equal(t, mustRows(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}).Data(), v.Data())

	h, err := Horzcat(a, Transpose(b))
	require.NoError(t, err)
	assert.Equal(t, mustRows(t, [][]float64{{1, 2, 5}, {3, 4, 6}}).Data(), h.Data())

	blk, err := Block(v, 1, 3, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 6}, blk.Data())

	e, err := Embed(blk, v.Shape(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, mustRows(t, [][]float64{{0, 0}, {0, 4}, {0, 6}}).Data(), e.Data())

	_, err = Block(v, 2, 4, 0, 1)
	assert.ErrorIs(t, err, ErrShape)
	_, err = Vertcat(a, Zeros(NewShape(1, 3)))
	assert.ErrorIs(t, err, ErrShape)
}

func TestSolve(t *testing.T) {
	a := mustRows(t, [][]float64{{3, 1}, {0.74, 4}})
	b := Column(1, 2)
	x, err := Solve(a, b)
	require.NoError(t, err)
	back, err := MatMul(a, x)
	require.NoError(t, err)
	assert.True(t, AllClose(back, b, 1e-12, 1e-14))

	_, err = Solve(mustRows(t, [][]float64{{1, 2}, {2, 4}}), b)
	assert.ErrorIs(t, err, ErrSingular)
}

func TestReduceTo(t *testing.T) {
	g := mustRows(t, [][]float64{{1, 2}, {3, 4}})
	r, err := ReduceTo(g, NewShape(1, 1))
	require.NoError(t, err)
	assert.Equal(t, 10.0, r.Value())

	_, err = ReduceTo(g, NewShape(2, 1))
	assert.ErrorIs(t, err, ErrShape)
}

func TestAllFinite(t *testing.T) {
	assert.True(t, Column(1, 2).AllFinite())
	assert.False(t, Column(1, math.NaN()).AllFinite())
	assert.False(t, Log(Scalar(0)).AllFinite())
}
