package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// FileInfo describes a config file on disk.
type FileInfo struct {
	Path    string
	Content string
	Exists  bool
}

// Manager inspects and initializes configuration files.
type Manager struct {
	dataDir       string // Path to .git/taskflow directory
	globalConfDir string // Path to global config directory (e.g., ~/.config/taskflow)
}

// NewManager creates a new Manager.
func NewManager(dataDir string) *Manager {
	return &Manager{
		dataDir:       dataDir,
		globalConfDir: defaultGlobalConfigDir(),
	}
}

// NewManagerWithGlobalDir creates a new Manager with a custom global config directory.
func NewManagerWithGlobalDir(dataDir, globalConfDir string) *Manager {
	return &Manager{
		dataDir:       dataDir,
		globalConfDir: globalConfDir,
	}
}

// RepoInfo returns information about the repository config file.
func (m *Manager) RepoInfo() FileInfo {
	return fileInfo(filepath.Join(m.dataDir, domain.ConfigFileName))
}

// GlobalInfo returns information about the global config file.
func (m *Manager) GlobalInfo() FileInfo {
	if m.globalConfDir == "" {
		return FileInfo{}
	}
	return fileInfo(filepath.Join(m.globalConfDir, domain.ConfigFileName))
}

func fileInfo(path string) FileInfo {
	content, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{Path: path}
	}
	return FileInfo{Path: path, Content: string(content), Exists: true}
}

// InitRepo writes a commented repository config file. An existing file is left untouched.
func (m *Manager) InitRepo(cfg *domain.Config) (string, error) {
	return initFile(m.dataDir, cfg)
}

// InitGlobal writes a commented global config file. An existing file is left untouched.
func (m *Manager) InitGlobal(cfg *domain.Config) (string, error) {
	if m.globalConfDir == "" {
		return "", errors.New("global config directory not available")
	}
	return initFile(m.globalConfDir, cfg)
}

func initFile(dir string, cfg *domain.Config) (string, error) {
	path := filepath.Join(dir, domain.ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%w: %s", domain.ErrConfigExists, path)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(RenderConfigTemplate(cfg)), 0o600); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
