package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/small-frappuccino/aperture/pkg/errors"
	"github.com/small-frappuccino/aperture/pkg/log"
)

// BaseService provides common functionality for all services
type BaseService struct {
	name         string
	serviceType  ServiceType
	priority     ServicePriority
	dependencies []string

	// State management
	state      ServiceState
	stateMutex sync.RWMutex
	isRunning  bool
	startTime  *time.Time
	stopTime   *time.Time
	errorCount int
	lastError  *errors.ServiceError

	// Health monitoring
	lastHealthCheck time.Time
	healthStatus    HealthStatus
	healthMutex     sync.Mutex

	// Hooks supplied by the concrete service
	startHook  func(ctx context.Context) error
	stopHook   func(ctx context.Context) error
	healthHook func(ctx context.Context) HealthStatus

	logger *slog.Logger
}

// NewBaseService creates a new base service
func NewBaseService(name string, serviceType ServiceType, priority ServicePriority, dependencies []string) *BaseService {
	return &BaseService{
		name:         name,
		serviceType:  serviceType,
		priority:     priority,
		dependencies: dependencies,
		state:        StateUninitialized,
		healthStatus: HealthStatus{
			Healthy:   true,
			Message:   "Service initialized",
			LastCheck: time.Now(),
		},
		logger: log.ApplicationLogger().With("service", name),
	}
}

func (bs *BaseService) Name() string              { return bs.name }
func (bs *BaseService) Type() ServiceType         { return bs.serviceType }
func (bs *BaseService) Priority() ServicePriority { return bs.priority }
func (bs *BaseService) Dependencies() []string    { return bs.dependencies }

// Start starts the service
func (bs *BaseService) Start(ctx context.Context) error {
	bs.stateMutex.Lock()
	defer bs.stateMutex.Unlock()

	if bs.isRunning {
		return nil
	}

	bs.logger.Info("Starting service...")
	bs.state = StateInitializing

	if bs.startHook != nil {
		if err := bs.startHook(ctx); err != nil {
			bs.state = StateError
			bs.errorCount++
			serviceErr := errors.NewServiceError(
				errors.CategoryService,
				errors.SeverityHigh,
				bs.name,
				"start",
				"Service start hook failed",
				err,
			)
			bs.lastError = serviceErr
			bs.logger.Error("Service start failed", "err", err)
			return serviceErr
		}
	}

	bs.isRunning = true
	bs.state = StateRunning
	now := time.Now()
	bs.startTime = &now
	bs.stopTime = nil

	bs.logger.Info("Service started successfully")
	return nil
}

// Stop stops the service. A failing stop hook is recorded and returned, but
// the service is still marked stopped.
func (bs *BaseService) Stop(ctx context.Context) error {
	bs.stateMutex.Lock()
	defer bs.stateMutex.Unlock()

	if !bs.isRunning {
		return nil
	}

	bs.logger.Info("Stopping service...")
	bs.state = StateStopping

	var hookErr error
	if bs.stopHook != nil {
		if err := bs.stopHook(ctx); err != nil {
			bs.errorCount++
			bs.lastError = errors.NewServiceError(
				errors.CategoryService,
				errors.SeverityMedium,
				bs.name,
				"stop",
				"Service stop hook failed",
				err,
			)
			bs.logger.Warn("Service stop failed", "err", err)
			hookErr = bs.lastError
		}
	}

	bs.isRunning = false
	bs.state = StateStopped
	now := time.Now()
	bs.stopTime = &now

	bs.logger.Info("Service stopped")
	return hookErr
}

// IsRunning returns true if the service is running
func (bs *BaseService) IsRunning() bool {
	bs.stateMutex.RLock()
	defer bs.stateMutex.RUnlock()
	return bs.isRunning
}

// HealthCheck performs a health check
func (bs *BaseService) HealthCheck(ctx context.Context) HealthStatus {
	bs.healthMutex.Lock()
	defer bs.healthMutex.Unlock()

	bs.lastHealthCheck = time.Now()

	if bs.healthHook != nil {
		bs.healthStatus = bs.healthHook(ctx)
		return bs.healthStatus
	}

	bs.stateMutex.RLock()
	bs.healthStatus = HealthStatus{
		Healthy:   bs.isRunning,
		Message:   bs.defaultHealthMessage(),
		LastCheck: bs.lastHealthCheck,
		Details: map[string]any{
			"state":         bs.state,
			"uptime":        bs.uptime().String(),
			"error_count":   bs.errorCount,
		},
	}
	bs.stateMutex.RUnlock()
	return bs.healthStatus
}

// Stats returns service statistics
func (bs *BaseService) Stats() ServiceStats {
	bs.stateMutex.RLock()
	defer bs.stateMutex.RUnlock()

	stats := ServiceStats{
		ErrorCount: bs.errorCount,
	}
	if bs.startTime != nil {
		stats.StartTime = *bs.startTime
		stats.Uptime = bs.uptime()
	}
	if bs.lastError != nil {
		stats.LastError = &bs.lastError.Timestamp
	}
	return stats
}

// GetState returns the current service state
func (bs *BaseService) GetState() ServiceState {
	bs.stateMutex.RLock()
	defer bs.stateMutex.RUnlock()
	return bs.state
}

func (bs *BaseService) SetStartHook(hook func(ctx context.Context) error)         { bs.startHook = hook }
func (bs *BaseService) SetStopHook(hook func(ctx context.Context) error)          { bs.stopHook = hook }
func (bs *BaseService) SetHealthHook(hook func(ctx context.Context) HealthStatus) { bs.healthHook = hook }

// defaultHealthMessage assumes stateMutex is held.
func (bs *BaseService) defaultHealthMessage() string {
	switch bs.state {
	case StateRunning:
		return "Service is running normally"
	case StateStopped:
		return "Service is stopped"
	case StateError:
		if bs.lastError != nil {
			return fmt.Sprintf("Service error: %s", bs.lastError.Message)
		}
		return "Service is in error state"
	case StateInitializing:
		return "Service is starting up"
	case StateStopping:
		return "Service is shutting down"
	default:
		return "Service state unknown"
	}
}

func (bs *BaseService) uptime() time.Duration {
	if bs.startTime == nil {
		return 0
	}
	if bs.stopTime != nil {
		return bs.stopTime.Sub(*bs.startTime)
	}
	return time.Since(*bs.startTime)
}

// ServiceWrapper adapts plain start/stop/check functions to the Service interface.
type ServiceWrapper struct {
	*BaseService
}

// NewServiceWrapper creates a wrapper around lifecycle functions. Any of them
// may be nil.
func NewServiceWrapper(
	name string,
	serviceType ServiceType,
	priority ServicePriority,
	dependencies []string,
	startFunc func(ctx context.Context) error,
	stopFunc func(ctx context.Context) error,
	checkFunc func(ctx context.Context) error,
) *ServiceWrapper {
	wrapper := &ServiceWrapper{BaseService: NewBaseService(name, serviceType, priority, dependencies)}

	if startFunc != nil {
		wrapper.SetStartHook(startFunc)
	}
	if stopFunc != nil {
		wrapper.SetStopHook(stopFunc)
	}
	wrapper.SetHealthHook(func(ctx context.Context) HealthStatus {
		status := HealthStatus{
			Healthy:   wrapper.IsRunning(),
			Message:   "Service is healthy",
			LastCheck: time.Now(),
			Details:   map[string]any{"state": wrapper.GetState()},
		}
		if !status.Healthy {
			status.Message = "Service is not running"
			return status
		}
		if checkFunc != nil {
			if err := checkFunc(ctx); err != nil {
				status.Healthy = false
				status.Message = err.Error()
			}
		}
		return status
	})

	return wrapper
}
