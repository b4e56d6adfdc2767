package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_EmbeddedSchema(t *testing.T) {
	ms, err := Discover()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, "001", ms[0].Version)
	assert.Contains(t, ms[0].SQL, "CREATE TABLE orders")
	assert.Len(t, ms[0].Checksum, 64)
}

func TestDiscover_SortsAndValidates(t *testing.T) {
	ms, err := discover(fstest.MapFS{
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("ignored")},
	})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "001_first.sql", ms[0].Filename)
	assert.Equal(t, "002_second.sql", ms[1].Filename)

	_, err = discover(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	})
	assert.ErrorContains(t, err, "duplicate migration version 001")

	_, err = discover(fstest.MapFS{"nounderscore.sql": {Data: []byte("SELECT 1;")}})
	assert.ErrorContains(t, err, "invalid migration filename")
}
