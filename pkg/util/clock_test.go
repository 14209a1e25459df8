package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_AfterFiresOnAdvance(t *testing.T) {
	start := time.Unix(1700000000, 0)
	c := NewManualClock(start)

	ch := c.After(time.Second)
	select {
	case <-ch:
		t.Fatal("fired before Advance")
	default:
	}

	c.Advance(500 * time.Millisecond)
	assert.Len(t, ch, 0)

	c.Advance(500 * time.Millisecond)
	assert.Equal(t, start.Add(time.Second), <-ch)
	assert.Equal(t, start.Add(time.Second), c.Now())
}
