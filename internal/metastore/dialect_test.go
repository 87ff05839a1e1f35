package metastore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entityledger/core/internal/metastore"
)

func TestParseDialectDefaultsToPostgres(t *testing.T) {
	d, err := metastore.ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, metastore.DialectPostgres, d)
}

func TestParseDialectAcceptsMySQL(t *testing.T) {
	d, err := metastore.ParseDialect("mysql")
	require.NoError(t, err)
	assert.Equal(t, metastore.DialectMySQL, d)
}

func TestParseDialectRejectsUnknown(t *testing.T) {
	_, err := metastore.ParseDialect("sqlite")
	assert.Error(t, err)
}
