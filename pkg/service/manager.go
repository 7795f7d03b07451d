package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/small-frappuccino/aperture/pkg/errors"
	"github.com/small-frappuccino/aperture/pkg/log"
)

// ServiceState represents the current state of a service
type ServiceState string

const (
	StateUninitialized ServiceState = "uninitialized"
	StateInitializing  ServiceState = "initializing"
	StateRunning       ServiceState = "running"
	StateStopping      ServiceState = "stopping"
	StateStopped       ServiceState = "stopped"
	StateError         ServiceState = "error"
)

// ServiceType represents different types of services
type ServiceType string

const (
	TypeCache   ServiceType = "cache"
	TypeGateway ServiceType = "gateway"
	TypeControl ServiceType = "control"
)

// ServicePriority breaks ties in start order (higher starts first).
type ServicePriority int

const (
	PriorityLow    ServicePriority = 1
	PriorityNormal ServicePriority = 5
	PriorityHigh   ServicePriority = 10
)

// HealthStatus represents the health of a service
type HealthStatus struct {
	Healthy   bool           `json:"healthy"`
	Message   string         `json:"message"`
	LastCheck time.Time      `json:"last_check"`
	Details   map[string]any `json:"details,omitempty"`
}

// ServiceStats provides runtime statistics for a service
type ServiceStats struct {
	StartTime  time.Time     `json:"start_time"`
	Uptime     time.Duration `json:"uptime"`
	ErrorCount int           `json:"error_count"`
	LastError  *time.Time    `json:"last_error,omitempty"`
}

// Service defines the interface that all services must implement
type Service interface {
	Name() string
	Type() ServiceType
	Priority() ServicePriority
	// Dependencies names the services that must be running first.
	Dependencies() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	HealthCheck(ctx context.Context) HealthStatus
	Stats() ServiceStats
}

// ServiceInfo holds metadata about a registered service
type ServiceInfo struct {
	Service       Service              `json:"-"`
	State         ServiceState         `json:"state"`
	LastStateTime time.Time            `json:"last_state_time"`
	StartTime     *time.Time           `json:"start_time,omitempty"`
	StopTime      *time.Time           `json:"stop_time,omitempty"`
	RestartCount  int                  `json:"restart_count"`
	ErrorCount    int                  `json:"error_count"`
	LastError     *errors.ServiceError `json:"last_error,omitempty"`
}

// ServiceManager coordinates the lifecycle of all services
type ServiceManager struct {
	services     map[string]*ServiceInfo
	dependsOn    map[string][]string // service -> dependencies
	dependents   map[string][]string // service -> dependents
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	errorHandler *errors.ErrorHandler
	monitorOnce  sync.Once

	startTimeout    time.Duration
	shutdownTimeout time.Duration
	healthInterval  time.Duration
	maxRestarts     int
	restartDelay    time.Duration
}

// NewServiceManager creates a new service manager
func NewServiceManager(errorHandler *errors.ErrorHandler) *ServiceManager {
	ctx, cancel := context.WithCancel(context.Background())
	if errorHandler == nil {
		errorHandler = errors.NewErrorHandler()
	}
	return &ServiceManager{
		services:        make(map[string]*ServiceInfo),
		dependsOn:       make(map[string][]string),
		dependents:      make(map[string][]string),
		ctx:             ctx,
		cancel:          cancel,
		errorHandler:    errorHandler,
		startTimeout:    30 * time.Second,
		shutdownTimeout: 30 * time.Second,
		healthInterval:  1 * time.Minute,
		maxRestarts:     3,
		restartDelay:    5 * time.Second,
	}
}

// SetShutdownTimeout bounds how long each Stop may take.
func (sm *ServiceManager) SetShutdownTimeout(d time.Duration) { sm.shutdownTimeout = d }

// SetHealthInterval sets the period of background health checks.
func (sm *ServiceManager) SetHealthInterval(d time.Duration) { sm.healthInterval = d }

// SetRestartPolicy configures restarts of unhealthy services.
func (sm *ServiceManager) SetRestartPolicy(maxRestarts int, delay time.Duration) {
	sm.maxRestarts = maxRestarts
	sm.restartDelay = delay
}

// Register adds a service to the manager
func (sm *ServiceManager) Register(service Service) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	name := service.Name()
	if _, exists := sm.services[name]; exists {
		return fmt.Errorf("service '%s' is already registered", name)
	}

	sm.services[name] = &ServiceInfo{
		Service:       service,
		State:         StateUninitialized,
		LastStateTime: time.Now(),
	}
	sm.dependsOn[name] = service.Dependencies()
	for _, dep := range service.Dependencies() {
		sm.dependents[dep] = append(sm.dependents[dep], name)
	}

	log.ApplicationLogger().Info("Service registered", "service", name, "type", service.Type(),
		"priority", service.Priority(), "dependencies", service.Dependencies())
	return nil
}

// StartAll starts all services in dependency order. If any fails, the
// services already started are stopped again.
func (sm *ServiceManager) StartAll() error {
	log.ApplicationLogger().Info("Starting all services...")

	startOrder, err := sm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate start order: %w", err)
	}

	for _, name := range startOrder {
		if err := sm.StartService(name); err != nil {
			_ = sm.StopAll()
			return fmt.Errorf("failed to start service '%s': %w", name, err)
		}
	}

	sm.monitorOnce.Do(func() { go sm.healthMonitor() })

	log.ApplicationLogger().Info("All services started successfully", "services_count", len(startOrder))
	return nil
}

// StopAll stops all services in reverse dependency order
func (sm *ServiceManager) StopAll() error {
	log.ApplicationLogger().Info("Stopping all services...")

	sm.cancel()

	startOrder, err := sm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate stop order: %w", err)
	}

	var stopErrors []error
	for i := len(startOrder) - 1; i >= 0; i-- {
		name := startOrder[i]
		if err := sm.StopService(name); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop service '%s': %w", name, err))
		}
	}

	if len(stopErrors) > 0 {
		log.ErrorLoggerRaw().Error("Some services failed to stop cleanly", "errors", stopErrors)
		return fmt.Errorf("failed to stop some services: %v", stopErrors)
	}

	log.ApplicationLogger().Info("All services stopped successfully")
	return nil
}

// StartService starts a specific service and its dependencies
func (sm *ServiceManager) StartService(name string) error {
	sm.mu.Lock()
	info, exists := sm.services[name]
	if !exists {
		sm.mu.Unlock()
		return fmt.Errorf("service '%s' not found", name)
	}
	if info.State == StateRunning {
		sm.mu.Unlock()
		return nil
	}
	if info.State == StateInitializing {
		sm.mu.Unlock()
		return fmt.Errorf("service '%s' is already initializing", name)
	}
	sm.updateServiceState(info, StateInitializing)
	sm.mu.Unlock()

	for _, dep := range sm.dependsOn[name] {
		if err := sm.StartService(dep); err != nil {
			sm.mu.Lock()
			sm.updateServiceState(info, StateError)
			sm.mu.Unlock()
			return fmt.Errorf("failed to start dependency '%s': %w", dep, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.startTimeout)
	defer cancel()

	log.ApplicationLogger().Info("Starting service...", "service", name)

	err := sm.errorHandler.HandleWithRetry(ctx, "start_service", name, func() error {
		return info.Service.Start(ctx)
	})

	sm.mu.Lock()
	if err != nil {
		info.LastError = errors.NewServiceError(
			errors.CategoryService,
			errors.SeverityHigh,
			name,
			"start",
			"Service failed to start",
			err,
		)
		info.ErrorCount++
		sm.updateServiceState(info, StateError)
		sm.mu.Unlock()
		return err
	}
	now := time.Now()
	info.StartTime = &now
	sm.updateServiceState(info, StateRunning)
	sm.mu.Unlock()

	log.ApplicationLogger().Info("Service started successfully", "service", name)
	return nil
}

// StopService stops a specific service after its dependents
func (sm *ServiceManager) StopService(name string) error {
	sm.mu.Lock()
	info, exists := sm.services[name]
	if !exists {
		sm.mu.Unlock()
		return fmt.Errorf("service '%s' not found", name)
	}
	if info.State != StateRunning {
		sm.mu.Unlock()
		return nil
	}
	sm.updateServiceState(info, StateStopping)
	sm.mu.Unlock()

	for _, dependent := range sm.dependents[name] {
		if err := sm.StopService(dependent); err != nil {
			log.ErrorLoggerRaw().Error("Failed to stop dependent service", "service", name, "dependent", dependent, "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	log.ApplicationLogger().Info("Stopping service...", "service", name)
	err := info.Service.Stop(ctx)

	sm.mu.Lock()
	if err != nil {
		info.LastError = errors.NewServiceError(
			errors.CategoryService,
			errors.SeverityMedium,
			name,
			"stop",
			"Service failed to stop cleanly",
			err,
		)
		info.ErrorCount++
	}
	now := time.Now()
	info.StopTime = &now
	sm.updateServiceState(info, StateStopped)
	sm.mu.Unlock()

	if err != nil {
		log.ErrorLoggerRaw().Error("Service stopped with errors", "service", name, "err", err)
		return err
	}
	log.ApplicationLogger().Info("Service stopped successfully", "service", name)
	return nil
}

// RestartService restarts a specific service
func (sm *ServiceManager) RestartService(name string) error {
	log.ApplicationLogger().Info("Restarting service...", "service", name)

	if err := sm.StopService(name); err != nil {
		log.ErrorLoggerRaw().Error("Failed to stop service for restart", "service", name, "err", err)
	}

	select {
	case <-sm.ctx.Done():
		return sm.ctx.Err()
	case <-time.After(sm.restartDelay):
	}

	sm.mu.Lock()
	info, ok := sm.services[name]
	if ok {
		info.RestartCount++
	}
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("service '%s' not found", name)
	}
	return sm.StartService(name)
}

// GetServiceInfo returns a copy of the information about a service
func (sm *ServiceManager) GetServiceInfo(name string) (*ServiceInfo, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	info, exists := sm.services[name]
	if !exists {
		return nil, fmt.Errorf("service '%s' not found", name)
	}
	infoCopy := *info
	return &infoCopy, nil
}

// GetAllServices returns information about all registered services
func (sm *ServiceManager) GetAllServices() map[string]ServiceInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make(map[string]ServiceInfo, len(sm.services))
	for name, info := range sm.services {
		result[name] = *info
	}
	return result
}

// GetRunningServices returns the sorted names of running services
func (sm *ServiceManager) GetRunningServices() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var running []string
	for name, info := range sm.services {
		if info.State == StateRunning {
			running = append(running, name)
		}
	}
	sort.Strings(running)
	return running
}

// calculateStartOrder returns a topological order of the services. Services
// without an ordering constraint start by descending priority, then by name.
func (sm *ServiceManager) calculateStartOrder() ([]string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	names := make([]string, 0, len(sm.services))
	for name := range sm.services {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := sm.services[names[i]].Service.Priority(), sm.services[names[j]].Service.Priority()
		if pi != pj {
			return pi > pj
		}
		return names[i] < names[j]
	})

	visited := make(map[string]bool)
	temp := make(map[string]bool)
	var order []string

	var visit func(string) error
	visit = func(name string) error {
		if temp[name] {
			return fmt.Errorf("circular dependency detected involving service '%s'", name)
		}
		if visited[name] {
			return nil
		}
		temp[name] = true
		for _, dep := range sm.dependsOn[name] {
			if _, exists := sm.services[dep]; !exists {
				return fmt.Errorf("service '%s' depends on unknown service '%s'", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		temp[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// updateServiceState updates the state of a service (assumes lock is held)
func (sm *ServiceManager) updateServiceState(info *ServiceInfo, state ServiceState) {
	info.State = state
	info.LastStateTime = time.Now()
}

// healthMonitor runs periodic health checks on all services
func (sm *ServiceManager) healthMonitor() {
	ticker := time.NewTicker(sm.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.C:
			sm.performHealthChecks()
		}
	}
}

// performHealthChecks checks the health of all running services
func (sm *ServiceManager) performHealthChecks() {
	sm.mu.RLock()
	var runningServices []*ServiceInfo
	for _, info := range sm.services {
		if info.State == StateRunning {
			runningServices = append(runningServices, info)
		}
	}
	sm.mu.RUnlock()

	for _, info := range runningServices {
		go sm.checkServiceHealth(info)
	}
}

// checkServiceHealth performs a health check on a single service
func (sm *ServiceManager) checkServiceHealth(info *ServiceInfo) {
	ctx, cancel := context.WithTimeout(sm.ctx, 10*time.Second)
	defer cancel()

	health := info.Service.HealthCheck(ctx)
	if health.Healthy {
		return
	}
	name := info.Service.Name()
	log.ErrorLoggerRaw().Error("Service health check failed", "service", name, "message", health.Message, "details", health.Details)

	sm.mu.Lock()
	info.ErrorCount++
	canRestart := info.RestartCount < sm.maxRestarts
	sm.mu.Unlock()

	if !canRestart {
		log.ErrorLoggerRaw().Error("Service exceeded maximum restart attempts", "service", name)
		return
	}
	log.ApplicationLogger().Info("Attempting to restart unhealthy service", "service", name)
	if err := sm.RestartService(name); err != nil {
		log.ErrorLoggerRaw().Error("Failed to restart unhealthy service", "service", name, "err", err)
	}
}

// CheckAll runs every health check synchronously and reports by name.
func (sm *ServiceManager) CheckAll(ctx context.Context) map[string]HealthStatus {
	sm.mu.RLock()
	infos := make(map[string]Service, len(sm.services))
	for name, info := range sm.services {
		infos[name] = info.Service
	}
	sm.mu.RUnlock()

	out := make(map[string]HealthStatus, len(infos))
	for name, svc := range infos {
		out[name] = svc.HealthCheck(ctx)
	}
	return out
}
