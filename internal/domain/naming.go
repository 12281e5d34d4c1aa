package domain

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DataDirName is the directory under .git holding all taskflow state.
const DataDirName = "taskflow"

// ConfigFileName is the name of configuration files.
const ConfigFileName = "config.toml"

// namePattern restricts task and agent names to values safe in refs and paths.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateName checks a task or agent name.
func ValidateName(kind, name string) error {
	if !namePattern.MatchString(name) || strings.Contains(name, "..") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

// RepoDataDir returns <gitDir>/taskflow.
func RepoDataDir(gitDir string) string {
	return filepath.Join(gitDir, DataDirName)
}

// GlobalConfigDir returns <configHome>/taskflow.
func GlobalConfigDir(configHome string) string {
	return filepath.Join(configHome, DataDirName)
}

// Store keys.

// LockKey returns the key of a task's lock token.
func LockKey(task string) string { return "locks/" + task }

// LockPrefix is the prefix of all lock keys.
const LockPrefix = "locks/"

// TaskKey returns the key of a Task Record.
func TaskKey(task string) string { return "tasks/" + task }

// StatusKey returns the key of an agent status record.
func StatusKey(task, agent string) string { return "status/" + task + "/" + agent }

// StatusPrefix returns the prefix of a task's agent status records.
func StatusPrefix(task string) string { return "status/" + task + "/" }

// ApprovalKey returns the key of an approval flag.
func ApprovalKey(task string, cp Checkpoint) string { return "approvals/" + task + "/" + string(cp) }

// PresentationKey returns the key of presented checkpoint content.
func PresentationKey(task string, cp Checkpoint) string {
	return "presentations/" + task + "/" + string(cp)
}

// ObjectionKey returns the key of an agent's classified objections.
func ObjectionKey(task, agent string) string { return "negotiation/" + task + "/" + agent }

// ObjectionPrefix returns the prefix of a task's objection sets.
func ObjectionPrefix(task string) string { return "negotiation/" + task + "/" }

// FollowUpKey returns the key of a follow-up record.
func FollowUpKey(task, id string) string { return "followups/" + task + "/" + id }

// FollowUpPrefix returns the prefix of a task's follow-up records.
func FollowUpPrefix(task string) string { return "followups/" + task + "/" }

// Branches and paths.

// TaskBranch returns the integration branch of a task.
// Format: taskflow/<task>/main
func TaskBranch(task string) string {
	return "taskflow/" + task + "/main"
}

// AgentBranch returns the isolated branch of an agent.
// Format: taskflow/<task>/agents/<agent>
func AgentBranch(task, agent string) string {
	return "taskflow/" + task + "/agents/" + agent
}

// AgentSessionName returns the terminal session name of an agent.
// tmux forbids '.' and ':' in session names, so both become '_'.
func AgentSessionName(task, agent string) string {
	return strings.NewReplacer(".", "_", ":", "_").Replace("taskflow-" + task + "-" + agent)
}

// SessionSocketPath returns the path of the tmux socket used for agent sessions.
func SessionSocketPath(dataDir string) string {
	return filepath.Join(dataDir, "tmux.sock")
}

// TaskWorkspacePath returns the path of a task-level workspace.
func TaskWorkspacePath(dataDir, task string) string {
	return filepath.Join(dataDir, "worktrees", task, "main")
}

// AgentWorkspacePath returns the path of an agent-level workspace.
func AgentWorkspacePath(dataDir, task, agent string) string {
	return filepath.Join(dataDir, "worktrees", task, "agents", agent)
}

// TaskWorkspaceRoot returns the directory holding all workspaces of a task.
func TaskWorkspaceRoot(dataDir, task string) string {
	return filepath.Join(dataDir, "worktrees", task)
}

// StoreDir returns the directory of the key-value store.
func StoreDir(dataDir string) string {
	return filepath.Join(dataDir, "store")
}

// TaskLogPath returns the path to the task log file.
func TaskLogPath(dataDir, task string) string {
	return filepath.Join(dataDir, "logs", "task-"+task+".log")
}

// GlobalLogPath returns the path to the global log file.
func GlobalLogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "taskflow.log")
}
