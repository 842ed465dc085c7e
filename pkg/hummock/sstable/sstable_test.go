package sstable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTable(t *testing.T, n int) *Reader {
	t.Helper()
	b := NewBuilder()
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("value-%05d", i))
		require.NoError(t, b.Add(Entry{UserKey: key, Epoch: 1, Value: val}))
	}
	file, _, _, err := b.Finish()
	require.NoError(t, err)
	r, err := OpenReader(file)
	require.NoError(t, err)
	return r
}

func TestBuilderRejectsOutOfOrderKeys(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add(Entry{UserKey: []byte("b"), Epoch: 1, Value: []byte("v")}))
	err := b.Add(Entry{UserKey: []byte("a"), Epoch: 1, Value: []byte("v")})
	assert.Error(t, err)
}

func TestGetFindsAllEntries(t *testing.T) {
	r := buildTable(t, 500)
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val, found, isDelete, err := r.Get(key, 1)
		require.NoError(t, err)
		assert.True(t, found)
		assert.False(t, isDelete)
		assert.Equal(t, fmt.Sprintf("value-%05d", i), string(val))
	}
}

func TestGetMissingKeyNotFound(t *testing.T) {
	r := buildTable(t, 100)
	_, found, _, err := r.Get([]byte("zzz-not-present"), 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetRespectsEpochVisibility(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add(Entry{UserKey: []byte("k"), Epoch: 5, Value: []byte("new")}))
	require.NoError(t, b.Add(Entry{UserKey: []byte("k"), Epoch: 2, Value: []byte("old")}))
	file, _, _, err := b.Finish()
	require.NoError(t, err)
	r, err := OpenReader(file)
	require.NoError(t, err)

	val, found, _, err := r.Get([]byte("k"), 10)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", string(val))

	val, found, _, err = r.Get([]byte("k"), 3)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "old", string(val))

	_, found, _, err = r.Get([]byte("k"), 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetTombstone(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Add(Entry{UserKey: []byte("k"), Epoch: 3, Value: nil}))
	file, _, _, err := b.Finish()
	require.NoError(t, err)
	r, err := OpenReader(file)
	require.NoError(t, err)

	_, found, isDelete, err := r.Get([]byte("k"), 5)
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, isDelete)
}

func TestAllEntriesPreservesOrder(t *testing.T) {
	r := buildTable(t, 50)
	entries, err := r.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 50)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("key-%05d", i), string(e.UserKey))
	}
}

func TestSmallestLargestKey(t *testing.T) {
	r := buildTable(t, 10)
	assert.Equal(t, "key-00000", string(r.SmallestKey()))
	assert.Equal(t, "key-00009", string(r.LargestKey()))
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	var keys [][]byte
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("bloom-key-%d", i)))
	}
	f := BuildBloomFilter(keys)
	for _, k := range keys {
		assert.True(t, f.MayContain(k))
	}
	encoded := f.Encode()
	decoded := DecodeBloomFilter(encoded)
	for _, k := range keys {
		assert.True(t, decoded.MayContain(k))
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		b := NewBuilderWithCodec(codec)
		for i := 0; i < 2000; i++ {
			key := []byte(fmt.Sprintf("key-%05d", i))
			val := []byte(fmt.Sprintf("value-%05d", i))
			require.NoError(t, b.Add(Entry{UserKey: key, Epoch: 1, Value: val}))
		}
		file, _, _, err := b.Finish()
		require.NoError(t, err)
		r, err := OpenReader(file)
		require.NoError(t, err)
		assert.Equal(t, codec, r.codec)
		for _, i := range []int{0, 999, 1999} {
			val, found, _, err := r.Get([]byte(fmt.Sprintf("key-%05d", i)), 1)
			require.NoError(t, err)
			require.True(t, found, "codec %d key %d", codec, i)
			assert.Equal(t, fmt.Sprintf("value-%05d", i), string(val))
		}
	}
}
