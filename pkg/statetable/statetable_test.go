package statetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadedb/cascade/pkg/common"
)

type fakeCellStore struct {
	cells map[string][]byte
}

func newFakeCellStore() *fakeCellStore {
	return &fakeCellStore{cells: make(map[string][]byte)}
}

func (f *fakeCellStore) Write(epoch uint64, key, value []byte) error {
	if value == nil {
		delete(f.cells, string(key))
		return nil
	}
	f.cells[string(key)] = append([]byte(nil), value...)
	return nil
}

func (f *fakeCellStore) Get(key []byte, atEpoch uint64) ([]byte, bool, error) {
	v, ok := f.cells[string(key)]
	return v, ok, nil
}

func testDesc() common.TableDesc {
	return common.TableDesc{
		TableID: 1,
		Columns: []common.ColumnDesc{
			{ID: 1, Name: "id", Type: common.TypeInt64},
			{ID: 2, Name: "name", Type: common.TypeVarchar},
		},
		PrimaryKeyPos: []int{0},
		PrimaryKeyDir: []common.OrderDirection{common.Ascending},
	}
}

func TestInsertThenGet(t *testing.T) {
	st := New(testDesc(), []byte("t1#"), newFakeCellStore())
	row := common.NewRow(common.NewDatum(int64(1)), common.NewDatum("alice"))
	st.Insert(row)
	require.NoError(t, st.Commit(1))

	got, found, err := st.Get(common.NewRow(common.NewDatum(int64(1))), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", got.At(1).Value().(string))
}

func TestDeleteRemovesRow(t *testing.T) {
	st := New(testDesc(), []byte("t1#"), newFakeCellStore())
	pk := common.NewRow(common.NewDatum(int64(1)))
	row := common.NewRow(common.NewDatum(int64(1)), common.NewDatum("alice"))
	st.Insert(row)
	require.NoError(t, st.Commit(1))

	st.Delete(pk)
	require.NoError(t, st.Commit(2))

	_, found, err := st.Get(pk, 2)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateReplacesRow(t *testing.T) {
	st := New(testDesc(), []byte("t1#"), newFakeCellStore())
	pk := common.NewRow(common.NewDatum(int64(1)))
	st.Insert(common.NewRow(common.NewDatum(int64(1)), common.NewDatum("alice")))
	require.NoError(t, st.Commit(1))

	st.Update(pk, common.NewRow(common.NewDatum(int64(1)), common.NewDatum("bob")))
	require.NoError(t, st.Commit(2))

	got, found, err := st.Get(pk, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bob", got.At(1).Value().(string))
}

func TestGetMissingRowNotFound(t *testing.T) {
	st := New(testDesc(), []byte("t1#"), newFakeCellStore())
	_, found, err := st.Get(common.NewRow(common.NewDatum(int64(99))), 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCommitClearsPendingBuffer(t *testing.T) {
	st := New(testDesc(), []byte("t1#"), newFakeCellStore())
	st.Insert(common.NewRow(common.NewDatum(int64(1)), common.NewDatum("alice")))
	assert.Equal(t, 1, st.PendingLen())
	require.NoError(t, st.Commit(1))
	assert.Equal(t, 0, st.PendingLen())
}
