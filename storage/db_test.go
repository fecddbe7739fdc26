package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBMissReturnsErrKeyNotFound(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_, err := db.Get([]byte("absent"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	ok, err := db.Has([]byte("absent"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDBPutCopiesValue(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("reserve")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'x'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("reserve"), got)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)

	require.NoError(t, db1.Put([]byte("loan/1"), []byte("active")))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("loan/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("active"), got)

	_, err = db2.Get([]byte("loan/2"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}
