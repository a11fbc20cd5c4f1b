package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/logistics/memstore"
)

func TestOpenStoreMemory(t *testing.T) {
	store, closeFn, err := OpenStore(context.Background(), &Config{StoreDriver: StoreDriverMemory}, nil)
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer closeFn()
	assert.IsType(t, &memstore.Store{}, store)
}

func TestOpenStorePostgresBadDSN(t *testing.T) {
	_, closeFn, err := OpenStore(context.Background(), &Config{StoreDriver: StoreDriverPostgres, PGDSN: "://bad"}, nil)
	require.Error(t, err)
	assert.NotNil(t, closeFn)
}
