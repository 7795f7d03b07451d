package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/storage"
)

// ErrorCategory represents different types of errors in the system
type ErrorCategory string

const (
	CategoryService    ErrorCategory = "service"
	CategoryDiscord    ErrorCategory = "discord"
	CategoryStore      ErrorCategory = "store"
	CategoryCache      ErrorCategory = "cache"
	CategoryConfig     ErrorCategory = "config"
	CategoryCommand    ErrorCategory = "command"
	CategoryValidation ErrorCategory = "validation"
	CategoryNetwork    ErrorCategory = "network"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity represents the severity level of errors
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorAction represents what action should be taken for an error
type ErrorAction string

const (
	ActionLog     ErrorAction = "log"
	ActionRetry   ErrorAction = "retry"
	ActionRestart ErrorAction = "restart"
)

// ServiceError represents a standardized error in the system
type ServiceError struct {
	Category    ErrorCategory  `json:"category"`
	Severity    ErrorSeverity  `json:"severity"`
	Message     string         `json:"message"`
	Operation   string         `json:"operation"`
	Component   string         `json:"component"`
	Cause       error          `json:"-"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Recoverable bool           `json:"recoverable"`
	Actions     []ErrorAction  `json:"actions"`
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s in %s.%s: %v", e.Category, e.Severity, e.Message, e.Component, e.Operation, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s in %s.%s", e.Category, e.Severity, e.Message, e.Component, e.Operation)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// RetryStrategy defines retry behavior for different error categories
type RetryStrategy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// ErrorHandler provides centralized error handling for services and commands
type ErrorHandler struct {
	retryStrategies map[ErrorCategory]RetryStrategy
}

// NewErrorHandler creates a new unified error handler
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		retryStrategies: map[ErrorCategory]RetryStrategy{
			CategoryDiscord: {
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    10 * time.Second,
				Multiplier:  2.0,
			},
			CategoryNetwork: {
				MaxAttempts: 5,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    30 * time.Second,
				Multiplier:  2.0,
			},
			CategoryStore: {
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    5 * time.Second,
				Multiplier:  2.0,
			},
			CategoryService: {
				MaxAttempts: 2,
				BaseDelay:   2 * time.Second,
				MaxDelay:    20 * time.Second,
				Multiplier:  3.0,
			},
		},
	}
}

// SetRetryStrategy overrides the retry behaviour of a category.
func (eh *ErrorHandler) SetRetryStrategy(category ErrorCategory, strategy RetryStrategy) {
	eh.retryStrategies[category] = strategy
}

// Handle normalises and logs an error, returning it as a *ServiceError.
func (eh *ErrorHandler) Handle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	serviceErr := eh.normalizeError(err)
	eh.logError(serviceErr)

	for _, action := range serviceErr.Actions {
		if action == ActionRestart {
			log.ApplicationLogger().Warn("Service restart required", "component", serviceErr.Component, "operation", serviceErr.Operation)
		}
	}

	return serviceErr
}

// HandleWithRetry executes an operation, retrying recoverable failures
// according to the strategy of their category.
func (eh *ErrorHandler) HandleWithRetry(ctx context.Context, operation string, component string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		serviceErr := eh.normalizeError(err)
		serviceErr.Component = component
		serviceErr.Operation = operation

		if !serviceErr.Recoverable {
			return eh.Handle(ctx, serviceErr)
		}

		strategy, hasStrategy := eh.retryStrategies[serviceErr.Category]
		if !hasStrategy || attempt >= strategy.MaxAttempts {
			return eh.Handle(ctx, serviceErr)
		}

		delay := eh.calculateDelay(strategy, attempt)
		log.ApplicationLogger().Warn("Operation failed, retrying", "attempt", attempt, "delay", delay, "component", component, "operation", operation, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// HandleDiscordError specifically handles Discord API errors
func (eh *ErrorHandler) HandleDiscordError(ctx context.Context, operation string, component string, err error) error {
	if err == nil {
		return nil
	}

	serviceErr := &ServiceError{
		Category:    CategoryDiscord,
		Message:     "Discord API operation failed",
		Operation:   operation,
		Component:   component,
		Cause:       err,
		Timestamp:   time.Now(),
		Recoverable: eh.isDiscordErrorRecoverable(err),
		Context:     make(map[string]any),
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		serviceErr.Context["discord_code"] = restErr.Message.Code
		serviceErr.Context["discord_message"] = restErr.Message.Message
		status := 0
		if restErr.Response != nil {
			status = restErr.Response.StatusCode
		}
		serviceErr.Severity = eh.getDiscordErrorSeverity(status)
		serviceErr.Actions = eh.getDiscordErrorActions(status)
		if status == 429 {
			if retryAfter := restErr.Response.Header.Get("Retry-After"); retryAfter != "" {
				serviceErr.Context["retry_after"] = retryAfter
			}
		}
	} else {
		serviceErr.Severity = SeverityMedium
		serviceErr.Actions = []ErrorAction{ActionLog, ActionRetry}
	}

	return eh.Handle(ctx, serviceErr)
}

// normalizeError converts any error into a ServiceError
func (eh *ErrorHandler) normalizeError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}

	category := Categorize(err)
	return &ServiceError{
		Category:    category,
		Severity:    eh.getSeverityForCategory(category),
		Message:     err.Error(),
		Operation:   "unknown",
		Component:   "unknown",
		Cause:       err,
		Timestamp:   time.Now(),
		Recoverable: eh.isErrorRecoverable(err),
		Actions:     eh.getDefaultActions(category),
		Context:     make(map[string]any),
	}
}

// Categorize classifies err, preferring sentinel errors over message text.
func Categorize(err error) ErrorCategory {
	var restErr *discordgo.RESTError
	switch {
	case errors.Is(err, storage.ErrStoreUnavailable):
		return CategoryStore
	case errors.Is(err, cache.ErrPremiumBlacklisted):
		return CategoryValidation
	case errors.Is(err, cache.ErrNotFilled):
		return CategoryCache
	case errors.As(err, &restErr):
		return CategoryDiscord
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryNetwork
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "discord") || strings.Contains(errStr, "gateway"):
		return CategoryDiscord
	case strings.Contains(errStr, "cache"):
		return CategoryCache
	case strings.Contains(errStr, "config"):
		return CategoryConfig
	case strings.Contains(errStr, "command"):
		return CategoryCommand
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout"):
		return CategoryNetwork
	case strings.Contains(errStr, "validation") || strings.Contains(errStr, "invalid"):
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// logError logs the error using the appropriate severity level
func (eh *ErrorHandler) logError(err *ServiceError) {
	attrs := []any{
		"category", err.Category,
		"severity", err.Severity,
		"component", err.Component,
		"operation", err.Operation,
		"recoverable", err.Recoverable,
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if err.Cause != nil {
		attrs = append(attrs, "err", err.Cause)
	}

	switch err.Severity {
	case SeverityLow, SeverityMedium:
		log.ApplicationLogger().Info(err.Message, attrs...)
	case SeverityHigh:
		log.ApplicationLogger().Warn(err.Message, attrs...)
	default:
		log.ErrorLoggerRaw().Error(err.Message, attrs...)
	}
}

func (eh *ErrorHandler) isDiscordErrorRecoverable(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		return code == 429 || (code >= 500 && code < 600)
	}
	return true
}

func (eh *ErrorHandler) isErrorRecoverable(err error) bool {
	if errors.Is(err, cache.ErrPremiumBlacklisted) || errors.Is(err, context.Canceled) {
		return false
	}
	errStr := strings.ToLower(err.Error())
	nonRecoverablePatterns := []string{"permission denied", "unauthorized", "not found", "invalid token"}
	for _, pattern := range nonRecoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}
	return true
}

func (eh *ErrorHandler) getDiscordErrorSeverity(status int) ErrorSeverity {
	switch {
	case status == 429:
		return SeverityMedium
	case status >= 400 && status < 500:
		return SeverityHigh
	case status >= 500:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

func (eh *ErrorHandler) getDiscordErrorActions(status int) []ErrorAction {
	switch {
	case status == 429 || status >= 500:
		return []ErrorAction{ActionLog, ActionRetry}
	default:
		return []ErrorAction{ActionLog}
	}
}

func (eh *ErrorHandler) getSeverityForCategory(category ErrorCategory) ErrorSeverity {
	switch category {
	case CategoryService, CategoryStore:
		return SeverityHigh
	case CategoryCache, CategoryValidation:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func (eh *ErrorHandler) getDefaultActions(category ErrorCategory) []ErrorAction {
	switch category {
	case CategoryDiscord, CategoryStore, CategoryNetwork:
		return []ErrorAction{ActionLog, ActionRetry}
	case CategoryService:
		return []ErrorAction{ActionLog, ActionRestart}
	default:
		return []ErrorAction{ActionLog}
	}
}

func (eh *ErrorHandler) calculateDelay(strategy RetryStrategy, attempt int) time.Duration {
	delay := float64(strategy.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= strategy.Multiplier
	}
	if d := time.Duration(delay); d < strategy.MaxDelay {
		return d
	}
	return strategy.MaxDelay
}

// NewServiceError creates a new service error with the specified parameters
func NewServiceError(category ErrorCategory, severity ErrorSeverity, component, operation, message string, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Severity:    severity,
		Message:     message,
		Operation:   operation,
		Component:   component,
		Cause:       cause,
		Timestamp:   time.Now(),
		Recoverable: true,
		Actions:     []ErrorAction{ActionLog},
		Context:     make(map[string]any),
	}
}
