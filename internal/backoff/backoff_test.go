package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyDelay(t *testing.T) {
	p := Policy{Base: time.Second, Factor: 2, Max: 8 * time.Second}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 8*time.Second, p.Delay(50))
}

func TestUploadPolicyCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, Upload.Delay(1))
	assert.Equal(t, 16*time.Second, Upload.Delay(4))
	assert.Equal(t, 5*time.Minute, Upload.Delay(20))
}

func TestZeroFactorDefaultsToDoubling(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond}
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
}
