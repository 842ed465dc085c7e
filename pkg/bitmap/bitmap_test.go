package bitmap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRandom(t *testing.T, n int, seed int64) *Bitmap {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	b := NewBuilder(n)
	for i := 0; i < n; i++ {
		b.Append(r.Intn(2) == 1)
	}
	return b.Finish()
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 63, 64, 65, 1000} {
		bm := buildRandom(t, n, int64(n))
		encoded := bm.Encode()
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.True(t, Equal(bm, decoded), "len=%d", n)
		assert.Equal(t, bm.CountOnes(), decoded.CountOnes())
	}
}

func TestDoubleNegationIsIdentity(t *testing.T) {
	bm := buildRandom(t, 137, 7)
	assert.True(t, Equal(Not(Not(bm)), bm))
}

func TestAndOr(t *testing.T) {
	a := NewBuilder(4)
	for _, v := range []bool{true, true, false, false} {
		a.Append(v)
	}
	b := NewBuilder(4)
	for _, v := range []bool{true, false, true, false} {
		b.Append(v)
	}
	and, err := And(a.Finish(), b.Finish())
	require.NoError(t, err)
	or, err := Or(a.Finish(), b.Finish())
	require.NoError(t, err)

	for i, want := range []bool{true, false, false, false} {
		assert.Equal(t, want, and.Get(i))
	}
	for i, want := range []bool{true, true, true, false} {
		assert.Equal(t, want, or.Get(i))
	}
}

func TestSetMaintainsPopcount(t *testing.T) {
	b := Zeroed(10)
	b.Set(3, true)
	b.Set(7, true)
	assert.Equal(t, 2, b.Finish().CountOnes())
	b.Set(3, false)
	assert.Equal(t, 1, b.Finish().CountOnes())
	// setting to the same value again must not double-count
	b.Set(7, true)
	assert.Equal(t, 1, b.Finish().CountOnes())
}

func TestEqualityIgnoresCapacityPadding(t *testing.T) {
	small := NewBuilder(1)
	small.Append(true)
	large := NewBuilder(1000)
	large.Append(true)
	assert.True(t, Equal(small.Finish(), large.Finish()))
}

func TestMismatchedLengthErrors(t *testing.T) {
	a := Zeroed(4).Finish()
	b := Zeroed(5).Finish()
	_, err := And(a, b)
	assert.Error(t, err)
}
