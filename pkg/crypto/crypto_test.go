package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandInt63n(t *testing.T) {
	_, err := RandInt63n(0)
	assert.ErrorIs(t, err, ErrNonPositiveRange)

	seen := make(map[int64]int)
	for i := 0; i < 3000; i++ {
		v, err := RandInt63n(3)
		require.NoError(t, err)
		require.GreaterOrEqual(t, v, int64(0))
		require.Less(t, v, int64(3))
		seen[v]++
	}
	// 每个值期望 1000 次，留足余量
	for v := int64(0); v < 3; v++ {
		assert.Greater(t, seen[v], 800, "value %d", v)
		assert.Less(t, seen[v], 1200, "value %d", v)
	}
}

func TestHMACSHA256(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"user_id":"u1"}`)

	sig := HMACSHA256(body, secret)
	assert.True(t, VerifyHMACSHA256(body, secret, sig))
	assert.False(t, VerifyHMACSHA256(body, []byte("other"), sig))
	assert.False(t, VerifyHMACSHA256([]byte(`{"user_id":"u2"}`), secret, sig))
	assert.False(t, VerifyHMACSHA256(body, secret, "not-hex"))
}
