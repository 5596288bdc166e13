package pagedb

import (
	"math"
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	assert := assertion.New(t)
	assert.Equal(-1, Compare(Int(1), Int(2)))
	assert.Equal(1, Compare(Int(2), Int(1)))
	assert.Equal(0, Compare(Int(5), Int(5)))

	assert.Equal(-1, Compare(Int(1), Double(1.5)))
	assert.Equal(0, Compare(Double(2), Int(2)))

	assert.Equal(-1, Compare(Bool(false), Bool(true)))
	assert.Equal(-1, Compare(Varchar("ab"), Varchar("abc")))
	assert.Equal(1, Compare(Char("b"), Char("abc")))
	assert.Equal(-1, Compare(Char("x"), Varchar("x")))

	assert.Equal(-1, Compare(Null(TypeInteger), Int(math.MinInt32)))
	assert.Equal(1, Compare(Int(0), Null(TypeInteger)))
	assert.Equal(0, Compare(Null(TypeVarchar), Null(TypeVarchar)))

	nan := Double(math.NaN())
	assert.Equal(1, Compare(nan, Double(math.Inf(1))))
	assert.Equal(0, Compare(nan, nan))
}

func TestCompareAntisymmetric(t *testing.T) {
	values := []Value{
		Null(TypeInteger), Int(-3), Int(0), Double(0.5), Int(7), Double(math.NaN()),
		Bool(false), Bool(true), Varchar(""), Varchar("a"), Char("b"),
	}
	for _, a := range values {
		for _, b := range values {
			assertion.Equal(t, Compare(a, b), -Compare(b, a), "%v vs %v", a, b)
		}
	}
}

func TestParseValue(t *testing.T) {
	assert := assertion.New(t)
	v, err := ParseValue(TypeInteger, "-12")
	assert.NoError(err)
	assert.Equal(Int(-12), v)

	v, err = ParseValue(TypeVarchar, "null")
	assert.NoError(err)
	assert.True(v.Null)

	_, err = ParseValue(TypeInteger, "4294967296")
	assert.Error(err)
	_, err = ParseValue(TypeBoolean, "maybe")
	assert.Error(err)
}
