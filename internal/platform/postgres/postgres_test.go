package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moltens/internal/platform/config"
)

func TestOpenWithoutURLIsDisabled(t *testing.T) {
	db, err := Open(context.Background(), config.PostgresConfig{})
	require.NoError(t, err)
	assert.Nil(t, db)
}
