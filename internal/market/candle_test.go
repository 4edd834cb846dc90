package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortDedupe(t *testing.T) {
	in := []Candle{
		{OpenTime: 300, Close: 3},
		{OpenTime: 100, Close: 1},
		{OpenTime: 200, Close: 2},
		{OpenTime: 100, Close: 1.5}, // 同一 OpenTime 保留后到的记录
	}
	out := SortDedupe(in)
	assert.Len(t, out, 3)
	assert.Equal(t, int64(100), out[0].OpenTime)
	assert.Equal(t, 1.5, out[0].Close)
	assert.Equal(t, int64(200), out[1].OpenTime)
	assert.Equal(t, int64(300), out[2].OpenTime)

	assert.Empty(t, SortDedupe(nil))
}

func TestCloses(t *testing.T) {
	closes := Closes([]Candle{{Close: 1.1}, {Close: 2.2}})
	assert.Equal(t, []float64{1.1, 2.2}, closes)
	assert.Empty(t, Closes(nil))
}
