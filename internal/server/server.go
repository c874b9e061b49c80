package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/erfianugrah/image-resizer/internal/clientdetect"
	"github.com/erfianugrah/image-resizer/internal/command"
	"github.com/erfianugrah/image-resizer/internal/config"
	"github.com/erfianugrah/image-resizer/internal/handlers"
	"github.com/erfianugrah/image-resizer/internal/httpcache"
	"github.com/erfianugrah/image-resizer/internal/lifecycle"
	"github.com/erfianugrah/image-resizer/internal/middleware"
	"github.com/erfianugrah/image-resizer/internal/paramresolve"
	"github.com/erfianugrah/image-resizer/internal/resilience"
	"github.com/erfianugrah/image-resizer/internal/scheduler"
	"github.com/erfianugrah/image-resizer/internal/storage"
	"github.com/erfianugrah/image-resizer/internal/transform"
	"github.com/erfianugrah/image-resizer/internal/ttl"
	"github.com/erfianugrah/image-resizer/internal/variantcache"
)

const edgeCacheSize = 4096

// Server owns the HTTP listener and the service graph wired behind it.
// It holds the Lifecycle Manager, which owns every service's init and
// shutdown; Server itself only starts and stops the net/http listener.
type Server struct {
	config    *config.Manager
	logger    *slog.Logger
	server    *http.Server
	lifecycle *lifecycle.Manager
	mux       *http.ServeMux
}

func New(configManager *config.Manager, logger *slog.Logger) (*Server, error) {
	cfg := configManager.Get()
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	lc := lifecycle.NewManager(logger, 10*time.Second, 10*time.Second)

	sched := scheduler.New(16, logger)
	lc.Register(schedulerService{sched: sched}, []string{"variant-store"}, true)

	sources, err := buildStorageSources(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("build storage sources: %w", err)
	}
	storageSvc := storage.NewService(cfg.Storage, sources)

	resolver := paramresolve.NewResolver(paramresolve.BuildRegistry(cfg.Transform.Registry))

	clientCache, err := clientdetect.NewCache(cfg.Transform.ClientDetection.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("build client-detection cache: %w", err)
	}

	transformSvc := transform.NewService(transform.PassthroughTransformer{}, transform.NoopMetadataService{}, metadataFlaggedDerivatives(cfg))

	calc := ttl.NewCalculator(cfg.Cache.TTL)

	store, err := variantcache.NewBuntStore(cfg.Cache.Variant.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open variant cache store: %w", err)
	}
	lc.Register(variantStoreService{store: store}, nil, false)
	vc := variantcache.New(store, sched, cfg.Cache.Variant)
	lc.Register(newMaintenanceService(vc, cfg.Cache.Variant.MaintenanceInterval, logger), []string{"variant-store"}, false)

	edge, err := httpcache.NewLRUEdgeCache(edgeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build edge cache: %w", err)
	}
	orch := httpcache.NewOrchestrator(edge, sched, resilience.DefaultCircuitBreakerPolicy, resilience.DefaultRetryPolicy, logger)

	executor := command.NewExecutor(
		configManager,
		resolver,
		clientCache,
		storageSvc,
		transformSvc,
		calc,
		vc,
		orch,
		sched,
		command.PlainTextDebugReporter{},
		logger,
		derivativeNames(cfg),
	)

	s := &Server{
		config:    configManager,
		logger:    logger,
		lifecycle: lc,
	}

	if err := lc.InitAll(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}

	s.mux = s.setupRoutes(executor, vc)

	return s, nil
}

func buildStorageSources(cfg config.StorageConfig) (map[storage.SourceType]storage.Source, error) {
	sources := map[storage.SourceType]storage.Source{}

	if cfg.R2.Bucket != "" {
		src, err := storage.NewR2Source(cfg.R2)
		if err != nil {
			return nil, fmt.Errorf("r2 source: %w", err)
		}
		sources[storage.SourceR2] = src
	}

	if cfg.Remote.BaseURL != "" {
		authValue := os.Getenv("IMAGE_RESIZER_REMOTE_AUTH")
		src, err := storage.NewRemoteSource(cfg.Remote, authValue)
		if err != nil {
			return nil, fmt.Errorf("remote source: %w", err)
		}
		sources[storage.SourceRemote] = src
	}

	if cfg.Fallback.BaseURL != "" {
		sources[storage.SourceFallback] = storage.NewFallbackSource(cfg.Fallback)
	}

	return sources, nil
}

// metadataFlaggedDerivatives reports which derivatives the configured
// document marks as needing a metadata lookup (e.g. `"smart": true`).
func metadataFlaggedDerivatives(cfg *config.Config) map[string]bool {
	flagged := make(map[string]bool, len(cfg.Transform.Derivatives))
	for name, fields := range cfg.Transform.Derivatives {
		if smart, ok := fields["smart"].(bool); ok && smart {
			flagged[name] = true
		}
	}
	return flagged
}

func derivativeNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Transform.Derivatives))
	for name := range cfg.Transform.Derivatives {
		names = append(names, name)
	}
	return names
}

// schedulerService lets the Lifecycle Manager drain the background
// worker pool on shutdown. It is registered as depending on the
// variant store, so the pool drains before the store is closed.
type schedulerService struct {
	sched *scheduler.Scheduler
}

func (schedulerService) Name() string { return "scheduler" }
func (schedulerService) Init(ctx context.Context) error { return nil }
func (s schedulerService) Shutdown(ctx context.Context) error { return s.sched.Shutdown(ctx) }

// variantStoreService closes the variant cache's backing store on
// shutdown. The store is opened in New, which fails outright if it
// cannot be opened; Init has nothing left to do.
type variantStoreService struct {
	store *variantcache.BuntStore
}

func (variantStoreService) Name() string { return "variant-store" }
func (variantStoreService) Init(ctx context.Context) error { return nil }
func (s variantStoreService) Shutdown(ctx context.Context) error {
	return s.store.Close()
}

const maintenanceBatchSize = 500

// maintenanceService runs the variant cache's expired-entry sweep on a
// timer for as long as the service graph is up.
type maintenanceService struct {
	cache    *variantcache.Cache
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

func newMaintenanceService(cache *variantcache.Cache, interval time.Duration, logger *slog.Logger) *maintenanceService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &maintenanceService{
		cache:    cache,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *maintenanceService) Name() string { return "variant-maintenance" }

func (m *maintenanceService) Init(ctx context.Context) error {
	go m.run()
	return nil
}

func (m *maintenanceService) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			pruned := m.cache.PerformMaintenance(context.Background(), maintenanceBatchSize)
			if pruned > 0 && m.logger != nil {
				m.logger.Info("variant cache maintenance", "pruned", pruned)
			}
		}
	}
}

func (m *maintenanceService) Shutdown(ctx context.Context) error {
	close(m.stop)
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.logger.Info("Starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
			if strings.Contains(err.Error(), "address already in use") || strings.Contains(err.Error(), "bind: address already in use") {
				s.handleAddressInUse(addr)
				os.Exit(1)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if err := s.lifecycle.ShutdownAll(ctx); err != nil {
		s.logger.Error("service shutdown reported errors", "error", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.lifecycle.ShutdownAll(ctx)
}

func (s *Server) setupRoutes(executor *command.Executor, vc *variantcache.Cache) *http.ServeMux {
	mux := http.NewServeMux()

	imageHandler := handlers.NewImageHandler(executor, s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)
	adminHandler := handlers.NewAdminHandler(vc, s.config, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))

	adminChain := middlewareSet.AdminChain()
	mux.Handle("/admin/purge/tag", adminChain.Handler(http.HandlerFunc(adminHandler.PurgeByTag)))
	mux.Handle("/admin/purge/path", adminChain.Handler(http.HandlerFunc(adminHandler.PurgeByPath)))
	mux.Handle("/admin/stats", adminChain.Handler(http.HandlerFunc(adminHandler.Stats)))
	mux.Handle("/admin/entries", adminChain.Handler(http.HandlerFunc(adminHandler.Entries)))
	mux.Handle("/admin/config", adminChain.Handler(http.HandlerFunc(adminHandler.Config)))

	mux.Handle("/", middlewareSet.DefaultChain().Handler(imageHandler))

	return mux
}

// handleAddressInUse attempts to find and display the PID using the specified address
func (s *Server) handleAddressInUse(addr string) {
	s.logger.Error("Address already in use", "address", addr)

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		s.logger.Error("Failed to parse address", "address", addr, "error", err)
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.logger.Error("Invalid port number", "port", portStr, "error", err)
		return
	}

	pid := s.findProcessUsingPort(port)
	if pid > 0 {
		processInfo := s.getProcessInfo(pid)
		s.logger.Error("Port is being used by another process",
			"port", port,
			"pid", pid,
			"process", processInfo)
	} else {
		s.logger.Error("Could not determine which process is using the port", "port", port)
	}
}

// findProcessUsingPort attempts to find the PID of the process using the specified port
func (s *Server) findProcessUsingPort(port int) int {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.findProcessUsingPortUnix(port)
	case "windows":
		return s.findProcessUsingPortWindows(port)
	default:
		s.logger.Warn("Unsupported OS for port detection", "os", runtime.GOOS)
		return 0
	}
}

// findProcessUsingPortUnix finds process using port on Unix-like systems
func (s *Server) findProcessUsingPortUnix(port int) int {
	if pid := s.tryNetstat(port); pid > 0 {
		return pid
	}
	if pid := s.tryLsof(port); pid > 0 {
		return pid
	}
	if pid := s.trySS(port); pid > 0 {
		return pid
	}
	return 0
}

// tryNetstat attempts to find PID using netstat
func (s *Server) tryNetstat(port int) int {
	cmd := exec.Command("netstat", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTEN") {
			parts := strings.Fields(line)
			if len(parts) >= 7 {
				pidProgram := parts[6]
				if pidStr := strings.Split(pidProgram, "/")[0]; pidStr != "-" {
					if pid, err := strconv.Atoi(pidStr); err == nil {
						return pid
					}
				}
			}
		}
	}

	return 0
}

// tryLsof attempts to find PID using lsof
func (s *Server) tryLsof(port int) int {
	if port < 1 || port > 65535 {
		return 0
	}
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port))

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	pidStr := strings.TrimSpace(string(output))
	if pidStr != "" {
		if pid, err := strconv.Atoi(pidStr); err == nil {
			return pid
		}
	}

	return 0
}

// trySS attempts to find PID using ss command
func (s *Server) trySS(port int) int {
	cmd := exec.Command("ss", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTEN") {
			if idx := strings.Index(line, "pid="); idx != -1 {
				pidPart := line[idx+4:]
				if commaIdx := strings.Index(pidPart, ","); commaIdx != -1 {
					pidStr := pidPart[:commaIdx]
					if pid, err := strconv.Atoi(pidStr); err == nil {
						return pid
					}
				}
			}
		}
	}

	return 0
}

// findProcessUsingPortWindows finds process using port on Windows
func (s *Server) findProcessUsingPortWindows(port int) int {
	cmd := exec.Command("netstat", "-ano")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTENING") {
			parts := strings.Fields(line)
			if len(parts) >= 5 {
				pidStr := parts[4]
				if pid, err := strconv.Atoi(pidStr); err == nil {
					return pid
				}
			}
		}
	}

	return 0
}

// getProcessInfo attempts to get information about a process
func (s *Server) getProcessInfo(pid int) string {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.getProcessInfoUnix(pid)
	case "windows":
		return s.getProcessInfoWindows(pid)
	default:
		return fmt.Sprintf("PID %d", pid)
	}
}

// getProcessInfoUnix gets process info on Unix-like systems
func (s *Server) getProcessInfoUnix(pid int) string {
	if pid < 1 || pid > 4194304 {
		return fmt.Sprintf("PID %d (invalid)", pid)
	}
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=")

	output, err := cmd.Output()
	if err == nil {
		processName := strings.TrimSpace(string(output))
		if processName != "" {
			return fmt.Sprintf("%s (PID: %d)", processName, pid)
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}

// getProcessInfoWindows gets process info on Windows
func (s *Server) getProcessInfoWindows(pid int) string {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")

	output, err := cmd.Output()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		if len(lines) > 0 && lines[0] != "" {
			parts := strings.Split(lines[0], ",")
			if len(parts) >= 1 {
				processName := strings.Trim(parts[0], "\"")
				return fmt.Sprintf("%s (PID: %d)", processName, pid)
			}
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}
