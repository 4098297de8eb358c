package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: time.Hour, Max: 4 * time.Hour, K: 2, Res: time.Minute}
	assert.Equal(t, time.Duration(0), b.DelayBefore())

	b.Failure()
	assert.InDelta(t, float64(time.Hour), float64(b.DelayBefore()), float64(2*time.Minute))
	b.Failure()
	assert.InDelta(t, float64(2*time.Hour), float64(b.DelayBefore()), float64(2*time.Minute))
	b.Failure()
	b.Failure()
	assert.InDelta(t, float64(4*time.Hour), float64(b.DelayBefore()), float64(2*time.Minute))

	b.Update(true)
	assert.InDelta(t, float64(time.Hour), float64(b.DelayBefore()), float64(2*time.Minute))
}
