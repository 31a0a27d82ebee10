package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_NewClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current(), "new clock should start at 0")
}

func TestClock_Next_Incrementing(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestClock_TemporaryKeyRange(t *testing.T) {
	c := NewClockAt(firstTemporaryKey)
	assert.Equal(t, int64(-2147482647), c.Next())
	assert.Equal(t, int64(-2147482646), c.Next())
}
