package usecase

import (
	"context"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/infra/config"
)

// ShowConfigOutput contains the config files and the effective configuration.
type ShowConfigOutput struct {
	Effective *domain.Config
	Global    config.FileInfo
	Repo      config.FileInfo
}

// ShowConfig is the use case for displaying configuration.
type ShowConfig struct {
	manager *config.Manager
	loader  domain.ConfigLoader
}

// NewShowConfig creates a new ShowConfig use case.
func NewShowConfig(manager *config.Manager, loader domain.ConfigLoader) *ShowConfig {
	return &ShowConfig{manager: manager, loader: loader}
}

// Execute reads both config files and the merged result.
func (uc *ShowConfig) Execute(_ context.Context) (*ShowConfigOutput, error) {
	cfg, err := uc.loader.Load()
	if err != nil {
		return nil, err
	}
	return &ShowConfigOutput{
		Effective: cfg,
		Global:    uc.manager.GlobalInfo(),
		Repo:      uc.manager.RepoInfo(),
	}, nil
}

// InitConfigInput contains the parameters for creating a config file.
type InitConfigInput struct {
	Global bool // Write the global file instead of the repository one
}

// InitConfigOutput contains the path of the written file.
type InitConfigOutput struct {
	Path string
}

// InitConfig is the use case for writing a commented default config file.
type InitConfig struct {
	manager *config.Manager
}

// NewInitConfig creates a new InitConfig use case.
func NewInitConfig(manager *config.Manager) *InitConfig {
	return &InitConfig{manager: manager}
}

// Execute writes the file. It fails with ErrConfigExists rather than overwrite.
func (uc *InitConfig) Execute(_ context.Context, in InitConfigInput) (*InitConfigOutput, error) {
	cfg := domain.NewDefaultConfig()
	var (
		path string
		err  error
	)
	if in.Global {
		path, err = uc.manager.InitGlobal(cfg)
	} else {
		path, err = uc.manager.InitRepo(cfg)
	}
	if err != nil {
		return nil, err
	}
	return &InitConfigOutput{Path: path}, nil
}
