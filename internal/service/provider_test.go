package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vulncontext/vulncontext-cli/internal/config"
)

func TestInitializeStore(t *testing.T) {
	t.Run("should fail fast without a database url", func(t *testing.T) {
		_, cleanup, err := InitializeStore(context.Background(), config.DatabaseConfig{}, zap.NewNop())
		assert.ErrorIs(t, err, ErrNoDatabaseURL)
		assert.Nil(t, cleanup)
	})

	t.Run("should reject an unparseable url", func(t *testing.T) {
		cfg := config.DatabaseConfig{URL: "://not-a-url"}
		_, cleanup, err := InitializeStore(context.Background(), cfg, zap.NewNop())
		require.Error(t, err)
		assert.Nil(t, cleanup)
	})
}
