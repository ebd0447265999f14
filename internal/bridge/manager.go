// Package bridge wires the upstream client, device registry, bulk engine and
// report sinks into one running bridge.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lock-credential-bridge/internal/api"
	"lock-credential-bridge/internal/bulk"
	"lock-credential-bridge/internal/client"
	"lock-credential-bridge/internal/config"
	"lock-credential-bridge/internal/database"
	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/queue"
	"lock-credential-bridge/internal/registry"
	"lock-credential-bridge/internal/types"
)

// Manager owns every bridge component and their lifecycle
type Manager struct {
	mu     sync.Mutex
	config *config.Config
	logger *logrus.Logger
	log    *logrus.Entry

	client    *client.HTTPClient
	registry  *registry.Registry
	engine    *bulk.Engine
	journal   *database.DB
	publisher *queue.ReportPublisher
	hub       *api.ProgressHub

	isRunning bool
	startTime time.Time
}

// ManagerOption is a functional option for configuring the Manager
type ManagerOption func(*Manager)

// WithProgressHub attaches a WebSocket progress hub as engine observer and recorder
func WithProgressHub(hub *api.ProgressHub) ManagerOption {
	return func(m *Manager) {
		m.hub = hub
	}
}

// NewManager creates the bridge components described by cfg. The journal and
// the Redis publisher are only opened when enabled.
func NewManager(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	m := &Manager{
		config: cfg,
		logger: logger,
		log:    logging.NewServiceLogger(logger, "bridge"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.initializeComponents(ctx); err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return m, nil
}

func (m *Manager) initializeComponents(ctx context.Context) error {
	m.log.Info("Initializing bridge components")

	httpClient, err := client.NewHTTPClient(m.config, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}
	m.client = httpClient

	resolver, err := registry.NewResolver(httpClient, httpClient, m.config.Resolver.Concurrency, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}
	m.registry = registry.NewRegistry(resolver)

	engine, err := bulk.NewEngine(httpClient, httpClient, bulk.Config{
		Layout:       m.config.SlotLayout(),
		Concurrency:  m.config.Bulk.Concurrency,
		BatchTimeout: m.config.Bulk.BatchTimeout,
	}, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create bulk engine: %w", err)
	}
	m.engine = engine

	if m.config.Journal.Enabled {
		db, err := database.NewDB(database.Config{
			Driver: m.config.Journal.Driver,
			DSN:    m.config.Journal.DSN,
		})
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		m.journal = db
		engine.AddRecorder(db)
		m.log.WithField("driver", db.Driver()).Info("Operation journal enabled")
	}

	if m.config.Redis.Enabled {
		publisher, err := queue.NewReportPublisher(ctx, m.config.Redis, m.logger)
		if err != nil {
			return fmt.Errorf("failed to connect report publisher: %w", err)
		}
		m.publisher = publisher
		engine.AddRecorder(publisher)
		m.log.WithField("addr", m.config.Redis.Addr).Info("Report publisher enabled")
	}

	if m.hub != nil {
		engine.AddObserver(m.hub)
		engine.AddRecorder(m.hub)
	}

	m.log.Info("Bridge components initialized successfully")
	return nil
}

// Registry returns the device registry
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Engine returns the bulk operation engine
func (m *Manager) Engine() *bulk.Engine { return m.engine }

// Journal returns the operation journal, or nil when disabled
func (m *Manager) Journal() *database.DB { return m.journal }

// Publisher returns the report publisher, or nil when disabled
func (m *Manager) Publisher() *queue.ReportPublisher { return m.publisher }

// Resolve refreshes the registry. An empty projectID falls back to the
// configured project.
func (m *Manager) Resolve(ctx context.Context, projectID string) (*registry.Snapshot, error) {
	if projectID == "" {
		projectID = m.config.ProjectID
	}
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	return m.registry.Refresh(ctx, projectID)
}

// Select resolves the project when no snapshot exists yet and returns the
// requested devices in order
func (m *Manager) Select(ctx context.Context, deviceIDs []string) ([]types.DeviceRecord, error) {
	snapshot := m.registry.Snapshot()
	if snapshot == nil {
		var err error
		if snapshot, err = m.Resolve(ctx, ""); err != nil {
			return nil, err
		}
	}
	return snapshot.Select(deviceIDs)
}

// APIDependencies returns the handler dependencies for the HTTP API
func (m *Manager) APIDependencies() api.Dependencies {
	deps := api.Dependencies{
		Registry:       m.registry,
		Engine:         m.engine,
		Hub:            m.hub,
		DefaultProject: m.config.ProjectID,
		HealthChecks:   map[string]api.HealthCheck{},
		Uptime:         m.GetUptime,
	}
	if m.journal != nil {
		deps.Journal = m.journal
		deps.HealthChecks["journal"] = m.journal.Health
	}
	if m.publisher != nil {
		deps.HealthChecks["redis"] = m.publisher.Health
	}
	return deps
}

// Serve resolves the configured project, if any, and runs the HTTP API until
// ctx is cancelled. A failed initial resolution is logged and the API still
// starts so a later resolve request can retry.
func (m *Manager) Serve(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("bridge manager is already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.isRunning = false
		m.mu.Unlock()
	}()

	if m.config.ProjectID != "" {
		snapshot, err := m.Resolve(ctx, m.config.ProjectID)
		if err != nil {
			m.log.WithError(err).Warn("Initial device resolution failed")
		} else {
			m.log.WithFields(logrus.Fields{
				"project_id": snapshot.ProjectID(),
				"devices":    snapshot.Len(),
			}).Info("Initial device resolution complete")
		}
	}

	server, err := api.NewServer(m.config.API, m.APIDependencies(), m.logger)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	m.log.Info("Bridge manager started successfully")
	return server.Start(ctx)
}

// GetUptime returns how long Serve has been running
func (m *Manager) GetUptime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// Close releases the journal, publisher and upstream connections
func (m *Manager) Close() error {
	var errs []error

	if m.publisher != nil {
		if err := m.publisher.Close(); err != nil {
			m.log.WithError(err).Error("Failed to close report publisher")
			errs = append(errs, fmt.Errorf("publisher close: %w", err))
		}
	}

	if m.journal != nil {
		if err := m.journal.Close(); err != nil {
			m.log.WithError(err).Error("Failed to close journal")
			errs = append(errs, fmt.Errorf("journal close: %w", err))
		}
	}

	if m.client != nil {
		if err := m.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("client close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown completed with errors: %v", errs)
	}
	return nil
}
