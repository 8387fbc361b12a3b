package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentage_FloorsFractions(t *testing.T) {
	// 33% of 100 is 33, not 33.33
	got := Percentage(FromInt(100), FromInt(33))
	assert.True(t, got.Equal(FromInt(33)), "expected 33, got %s", got)

	// 10% of 95 is 9, not 9.5
	got = Percentage(FromInt(95), FromInt(10))
	assert.True(t, got.Equal(FromInt(9)), "expected 9, got %s", got)
}

func TestPercentage_ExactSplit(t *testing.T) {
	got := Percentage(FromInt(1_000_000), FromInt(70))
	assert.True(t, got.Equal(FromInt(700_000)))
}

func TestPercentage_Deterministic(t *testing.T) {
	first := Percentage(FromInt(100), FromInt(33))
	for i := 0; i < 100; i++ {
		assert.True(t, first.Equal(Percentage(FromInt(100), FromInt(33))))
	}
}

func TestSum(t *testing.T) {
	total := Sum(FromInt(33), FromInt(33), FromInt(34))
	assert.True(t, total.Equal(FromInt(100)))

	assert.True(t, Sum().Equal(decimal.Zero))
}

func TestIsPositive(t *testing.T) {
	assert.True(t, IsPositive(FromInt(1)))
	assert.False(t, IsPositive(decimal.Zero))
	assert.False(t, IsPositive(FromInt(-1)))
}
