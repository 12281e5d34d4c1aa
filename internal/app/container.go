// Package app provides the dependency injection container for the application.
package app

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/runoshun/git-taskflow/internal/approval"
	"github.com/runoshun/git-taskflow/internal/controller"
	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/infra/classifier"
	"github.com/runoshun/git-taskflow/internal/infra/config"
	"github.com/runoshun/git-taskflow/internal/infra/executor"
	"github.com/runoshun/git-taskflow/internal/infra/git"
	"github.com/runoshun/git-taskflow/internal/infra/kvstore"
	"github.com/runoshun/git-taskflow/internal/infra/logging"
	"github.com/runoshun/git-taskflow/internal/infra/metrics"
	"github.com/runoshun/git-taskflow/internal/infra/runner"
	"github.com/runoshun/git-taskflow/internal/infra/tmux"
	"github.com/runoshun/git-taskflow/internal/infra/watcher"
	"github.com/runoshun/git-taskflow/internal/infra/worktree"
	"github.com/runoshun/git-taskflow/internal/lock"
	"github.com/runoshun/git-taskflow/internal/recovery"
	"github.com/runoshun/git-taskflow/internal/round"
	"github.com/runoshun/git-taskflow/internal/status"
	"github.com/runoshun/git-taskflow/internal/usecase"
	"github.com/runoshun/git-taskflow/internal/workspace"
)

// Config holds the application paths.
type Config struct {
	RepoRoot string // Root directory of the git repository
	GitDir   string // Path to .git directory
	DataDir  string // Path to .git/taskflow directory
	StoreDir string // Path to the key-value store
	Cwd      string // Working directory of the process
}

// newConfig creates a new Config from the git client.
func newConfig(gitClient *git.Client, cwd string) Config {
	dataDir := domain.RepoDataDir(gitClient.GitDir())
	return Config{
		RepoRoot: gitClient.RepoRoot(),
		GitDir:   gitClient.GitDir(),
		DataDir:  dataDir,
		StoreDir: domain.StoreDir(dataDir),
		Cwd:      cwd,
	}
}

// Deps are the ports a container is assembled from.
type Deps struct {
	Store      domain.Store
	Worktrees  domain.WorktreeManager
	VCS        domain.VersionControl
	Validator  domain.Validator
	Invoker    domain.AgentInvoker
	Sessions   domain.SessionManager
	Classifier domain.Classifier
	Clock      domain.Clock
	Logger     domain.Logger
	Metrics    domain.Metrics
	Wake       usecase.WakeSource
}

// Container provides dependency injection for the application.
// It holds the engines and provides factory methods for use cases.
type Container struct {
	// Ports (interfaces bound to implementations)
	Store        domain.Store
	Clock        domain.Clock
	Logger       domain.Logger
	Invoker      domain.AgentInvoker
	Sessions     domain.SessionManager
	ConfigLoader domain.ConfigLoader
	Wake         usecase.WakeSource

	// Engines
	Controller *controller.Controller
	Locks      *lock.Manager
	Statuses   *status.Tracker
	Workspaces *workspace.Manager
	Rounds     *round.Coordinator
	Poller     *round.Poller
	Recovery   *recovery.Subsystem

	// Pointer fields
	ConfigManager *config.Manager
	AppConfig     *domain.Config
	Stderr        *slog.Logger
	logs          *logging.Logger
	metrics       *metrics.Metrics

	// Configuration
	Config Config
}

// New creates a new Container by detecting the git repository from the given directory.
func New(dir string) (*Container, error) {
	gitClient, err := git.NewClient(dir)
	if err != nil {
		return nil, err
	}
	cwd, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	cfg := newConfig(gitClient, cwd)

	loader := config.NewLoader(cfg.DataDir)
	appConfig, err := loader.Load()
	if err != nil {
		return nil, err
	}

	stderr := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.ParseLevel(appConfig.Log.Level),
	}))

	logs := logging.New(cfg.DataDir, logging.ParseLevel(appConfig.Log.Level), domain.RealClock{})

	cls, invalid := classifier.New(appConfig.Classifier)
	for _, p := range invalid {
		stderr.Warn("ignoring invalid classifier pattern", "pattern", p)
	}

	sessions := tmux.NewClient(domain.SessionSocketPath(cfg.DataDir))
	deps := Deps{
		Store:      kvstore.New(cfg.StoreDir),
		Worktrees:  worktree.NewClient(cfg.RepoRoot),
		VCS:        gitClient,
		Validator:  executor.NewValidator(appConfig.Validate.Command, appConfig.ValidateTimeout()),
		Invoker:    runner.NewInvoker(appConfig.Agents, sessions, cfg.DataDir),
		Sessions:   sessions,
		Classifier: cls,
		Clock:      domain.RealClock{},
		Logger:     logs,
		Wake:       statusWatch{storeDir: cfg.StoreDir, logger: logs},
	}

	var m *metrics.Metrics
	if appConfig.Metrics.Textfile != "" {
		m, err = metrics.New(appConfig.Metrics.Textfile)
		if err != nil {
			stderr.Warn("metrics disabled", "error", err)
		} else {
			deps.Metrics = m
		}
	}

	c := NewWithDeps(cfg, appConfig, deps)
	c.ConfigLoader = loader
	c.ConfigManager = config.NewManager(cfg.DataDir)
	c.Stderr = stderr
	c.logs = logs
	c.metrics = m
	return c, nil
}

// NewWithDeps creates a new Container with custom dependencies for testing.
func NewWithDeps(cfg Config, appConfig *domain.Config, deps Deps) *Container {
	if appConfig == nil {
		appConfig = domain.NewDefaultConfig()
	}
	if deps.Clock == nil {
		deps.Clock = domain.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = domain.NopLogger{}
	}

	locks := lock.NewManager(deps.Store, deps.Clock, deps.Logger, deps.Metrics)
	statuses := status.NewTracker(deps.Store, deps.Clock, deps.Logger)
	workspaces := workspace.NewManager(locks, deps.Worktrees, deps.VCS, deps.Validator, deps.Logger,
		cfg.DataDir, appConfig.IntegrateRetries())
	rounds := round.NewCoordinator(statuses, workspaces, deps.Invoker, deps.Store, deps.Clock, deps.Logger, round.Config{
		Authorities: appConfig.Authorities(),
		ScopeFactor: appConfig.ScopeFactor(),
	})
	ctrl := controller.New(controller.Deps{
		Store:      deps.Store,
		Locks:      locks,
		Gate:       approval.NewGate(deps.Store, deps.Clock, deps.Logger),
		Workspaces: workspaces,
		Rounds:     rounds,
		Statuses:   statuses,
		VCS:        deps.VCS,
		Classifier: deps.Classifier,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	}, controller.Options{
		TierAgents:         appConfig.Classifier.Agents.ByLevel(),
		EscalationKeywords: appConfig.Risk.EscalationKeywords,
		RepoRoot:           cfg.RepoRoot,
		Cwd:                cfg.Cwd,
	})
	rec := recovery.New(recovery.Deps{
		Controller: ctrl,
		Locks:      locks,
		Workspaces: workspaces,
		Statuses:   statuses,
		Invoker:    deps.Invoker,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	}, recovery.Config{
		StaleAfter: appConfig.StaleAfter(),
		MaxRetries: appConfig.MaxRetries(),
	})

	return &Container{
		Store:         deps.Store,
		Clock:         deps.Clock,
		Logger:        deps.Logger,
		Invoker:       deps.Invoker,
		Sessions:      deps.Sessions,
		ConfigLoader:  staticLoader{cfg: appConfig},
		Wake:          deps.Wake,
		Controller:    ctrl,
		Locks:         locks,
		Statuses:      statuses,
		Workspaces:    workspaces,
		Rounds:        rounds,
		Poller:        round.NewPoller(statuses, deps.Clock, appConfig.StaleAfter(), appConfig.PollInterval(), appConfig.MaxPollInterval()),
		Recovery:      rec,
		ConfigManager: config.NewManagerWithGlobalDir(cfg.DataDir, ""),
		AppConfig:     appConfig,
		Stderr:        slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Config:        cfg,
	}
}

// Close flushes metrics and closes log files.
func (c *Container) Close() error {
	var errs []error
	if c.metrics != nil {
		errs = append(errs, c.metrics.Flush())
	}
	if c.logs != nil {
		errs = append(errs, c.logs.Close())
	}
	return errors.Join(errs...)
}

// staticLoader serves an already loaded configuration.
type staticLoader struct {
	cfg *domain.Config
}

func (l staticLoader) Load() (*domain.Config, error) { return l.cfg, nil }

// statusWatch adapts the filesystem watcher to usecase.WakeSource.
type statusWatch struct {
	logger   domain.Logger
	storeDir string
}

func (s statusWatch) Watch(task string) (<-chan struct{}, func() error, error) {
	w, err := watcher.ForStatuses(s.storeDir, task, s.logger)
	if err != nil {
		return nil, nil, err
	}
	return w.Wake(), w.Close, nil
}

// UseCase factory methods

// NewSessionUseCase returns a new NewSession use case.
func (c *Container) NewSessionUseCase() *usecase.NewSession {
	return &usecase.NewSession{}
}

// StartTaskUseCase returns a new StartTask use case.
func (c *Container) StartTaskUseCase() *usecase.StartTask {
	return usecase.NewStartTask(c.Controller, c.Workspaces, c.AppConfig.BaseBranch)
}

// ClassifyTaskUseCase returns a new ClassifyTask use case.
func (c *Container) ClassifyTaskUseCase() *usecase.ClassifyTask {
	return usecase.NewClassifyTask(c.Controller)
}

// AdvanceTaskUseCase returns a new AdvanceTask use case.
func (c *Container) AdvanceTaskUseCase() *usecase.AdvanceTask {
	return usecase.NewAdvanceTask(c.Controller)
}

// PresentCheckpointUseCase returns a new PresentCheckpoint use case.
func (c *Container) PresentCheckpointUseCase() *usecase.PresentCheckpoint {
	return usecase.NewPresentCheckpoint(c.Controller)
}

// ApproveCheckpointUseCase returns a new ApproveCheckpoint use case.
func (c *Container) ApproveCheckpointUseCase() *usecase.ApproveCheckpoint {
	return usecase.NewApproveCheckpoint(c.Controller)
}

// AgentWorkspaceUseCase returns a new AgentWorkspace use case.
func (c *Container) AgentWorkspaceUseCase() *usecase.AgentWorkspace {
	return usecase.NewAgentWorkspace(c.Controller, c.Workspaces)
}

// ReportStatusUseCase returns a new ReportStatus use case.
func (c *Container) ReportStatusUseCase() *usecase.ReportStatus {
	return usecase.NewReportStatus(c.Controller, c.Statuses)
}

// IntegrateAgentUseCase returns a new IntegrateAgent use case.
func (c *Container) IntegrateAgentUseCase() *usecase.IntegrateAgent {
	return usecase.NewIntegrateAgent(c.Controller, c.Locks, c.Workspaces, c.Statuses)
}

// InvokeAgentUseCase returns a new InvokeAgent use case.
func (c *Container) InvokeAgentUseCase() *usecase.InvokeAgent {
	return usecase.NewInvokeAgent(c.Controller, c.Workspaces, c.Rounds, c.Invoker)
}

// PeekAgentUseCase returns a new PeekAgent use case.
func (c *Container) PeekAgentUseCase() *usecase.PeekAgent {
	return usecase.NewPeekAgent(c.Controller, c.Sessions)
}

// AttachAgentUseCase returns a new AttachAgent use case.
func (c *Container) AttachAgentUseCase() *usecase.AttachAgent {
	return usecase.NewAttachAgent(c.Controller, c.Sessions)
}

// RoundStatusUseCase returns a new RoundStatus use case.
func (c *Container) RoundStatusUseCase() *usecase.RoundStatus {
	return usecase.NewRoundStatus(c.Controller, c.Poller, c.Wake)
}

// DecideRejectionUseCase returns a new DecideRejection use case.
func (c *Container) DecideRejectionUseCase() *usecase.DecideRejection {
	return usecase.NewDecideRejection(c.Controller, c.Rounds)
}

// ClassifyObjectionsUseCase returns a new ClassifyObjections use case.
func (c *Container) ClassifyObjectionsUseCase() *usecase.ClassifyObjections {
	return usecase.NewClassifyObjections(c.Controller, c.Rounds)
}

// ResolveNegotiationUseCase returns a new ResolveNegotiation use case.
func (c *Container) ResolveNegotiationUseCase() *usecase.ResolveNegotiation {
	return usecase.NewResolveNegotiation(c.Controller, c.Rounds)
}

// ResumeUseCase returns a new Resume use case.
func (c *Container) ResumeUseCase() *usecase.Resume {
	return usecase.NewResume(c.Recovery)
}

// InterruptUseCase returns a new Interrupt use case.
func (c *Container) InterruptUseCase() *usecase.Interrupt {
	return usecase.NewInterrupt(c.Recovery)
}

// AbandonTaskUseCase returns a new AbandonTask use case.
func (c *Container) AbandonTaskUseCase() *usecase.AbandonTask {
	return usecase.NewAbandonTask(c.Controller)
}

// ShowTaskUseCase returns a new ShowTask use case.
func (c *Container) ShowTaskUseCase() *usecase.ShowTask {
	var logs usecase.LogTailer
	if c.logs != nil {
		logs = c.logs
	}
	return usecase.NewShowTask(c.Controller, c.Locks, c.Statuses, c.Rounds, logs)
}

// ListTasksUseCase returns a new ListTasks use case.
func (c *Container) ListTasksUseCase() *usecase.ListTasks {
	return usecase.NewListTasks(c.Controller)
}

// ShowConfigUseCase returns a new ShowConfig use case.
func (c *Container) ShowConfigUseCase() *usecase.ShowConfig {
	return usecase.NewShowConfig(c.ConfigManager, c.ConfigLoader)
}

// InitConfigUseCase returns a new InitConfig use case.
func (c *Container) InitConfigUseCase() *usecase.InitConfig {
	return usecase.NewInitConfig(c.ConfigManager)
}
