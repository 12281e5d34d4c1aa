package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/infra/config"
)

func TestInitAndShowConfig(t *testing.T) {
	ctx := context.Background()
	dataDir, globalDir := t.TempDir(), t.TempDir()
	manager := config.NewManagerWithGlobalDir(dataDir, globalDir)
	loader := config.NewLoaderWithGlobalDir(dataDir, globalDir)

	out, err := NewShowConfig(manager, loader).Execute(ctx)
	require.NoError(t, err)
	assert.False(t, out.Repo.Exists)
	assert.False(t, out.Global.Exists)
	assert.Equal(t, domain.NewDefaultConfig(), out.Effective)

	initUC := NewInitConfig(manager)
	written, err := initUC.Execute(ctx, InitConfigInput{})
	require.NoError(t, err)
	assert.Equal(t, out.Repo.Path, written.Path)
	_, err = initUC.Execute(ctx, InitConfigInput{})
	assert.ErrorIs(t, err, domain.ErrConfigExists)

	_, err = initUC.Execute(ctx, InitConfigInput{Global: true})
	require.NoError(t, err)

	out, err = NewShowConfig(manager, loader).Execute(ctx)
	require.NoError(t, err)
	assert.True(t, out.Repo.Exists)
	assert.True(t, out.Global.Exists)
	assert.NotEmpty(t, out.Repo.Content)
	assert.Equal(t, domain.NewDefaultConfig(), out.Effective)
}
