// Package health tracks whether the provider's two platform-facing
// collaborators — the ProjFS instance itself and the Async Bridge's
// calls into the logical filesystem — are healthy enough to keep
// serving the projection, and if not, how degraded it is.
package health

import (
	"context"
	stderr "errors"
	"fmt"
	"sync"
	"time"

	"github.com/objfsprojfs/objfsprojfs/pkg/errors"
)

// HealthState represents how well a tracked component is serving the
// projection.
type HealthState int

const (
	// StateHealthy: the component is responding normally.
	StateHealthy HealthState = iota

	// StateDegraded: recent calls have failed but not enough to stop
	// trusting fresh results; retries are in flight.
	StateDegraded

	// StateStaleOnly: fetches into the logical filesystem are failing
	// consistently. Entries already in the Content Cache keep being
	// served, but nothing new is being populated.
	StateStaleOnly

	// StateUnavailable: the component cannot serve the projection at
	// all, including from cache.
	StateUnavailable
)

// String returns the string representation of a health state.
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateStaleOnly:
		return "stale-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ComponentHealth tracks the health of a specific component ("bridge"
// or "provider").
type ComponentHealth struct {
	Name              string                 `json:"name"`
	State             HealthState            `json:"state"`
	LastStateChange   time.Time              `json:"last_state_change"`
	LastHealthCheck   time.Time              `json:"last_health_check"`
	ConsecutiveErrors int                    `json:"consecutive_errors"`
	LastError         error                  `json:"-"`
	LastErrorMessage  string                 `json:"last_error_message,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Tracker tracks the health of the bridge and provider components and
// determines overall system health for internal/host's Stats().
type Tracker struct {
	mu              sync.RWMutex
	components      map[string]*ComponentHealth
	config          TrackerConfig
	stateCallbacks  map[HealthState][]StateChangeCallback
	healthListeners []HealthListener
}

// TrackerConfig configures health tracking behavior.
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive fetch failures before
	// a component is considered degraded.
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// StaleOnlyThreshold is the number of consecutive failures before a
	// degraded component stops being trusted for fresh fetches and
	// falls back to serving only what's already cached.
	StaleOnlyThreshold int `yaml:"stale_only_threshold" json:"stale_only_threshold"`

	// UnavailableThreshold is the number of consecutive failures before
	// marking the component unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// RecoveryThreshold is unused by RecordSuccess's current
	// decrement-on-success behavior; kept for forward compatibility
	// with a future sliding-window recovery policy.
	RecoveryThreshold int `yaml:"recovery_threshold" json:"recovery_threshold"`

	// HealthCheckInterval is the interval for StartHealthChecks.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// StateHistorySize is reserved for a future bounded state-change log.
	StateHistorySize int `yaml:"state_history_size" json:"state_history_size"`

	// EnableAutoRecovery is carried in the configuration but not read by
	// the Tracker; a component recovers on RecordSuccess whatever its value.
	EnableAutoRecovery bool `yaml:"enable_auto_recovery" json:"enable_auto_recovery"`
}

// StateChangeCallback is called when a component's health state changes.
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// HealthListener is notified of all health events.
type HealthListener interface {
	OnStateChange(component string, oldState, newState HealthState, err error)
	OnHealthCheck(component string, healthy bool, err error)
}

// DefaultConfig returns thresholds tuned for the bridge's fetch calls:
// a short run of consecutive failures degrades the component, and a
// longer one — long enough to rule out a single slow logical
// filesystem call — marks it unavailable.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		StaleOnlyThreshold:   6,
		UnavailableThreshold: 10,
		RecoveryThreshold:    5,
		HealthCheckInterval:  30 * time.Second,
		StateHistorySize:     100,
		EnableAutoRecovery:   true,
	}
}

// NewTracker creates a new health tracker.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		components:      make(map[string]*ComponentHealth),
		config:          config,
		stateCallbacks:  make(map[HealthState][]StateChangeCallback),
		healthListeners: make([]HealthListener, 0),
	}
}

// RegisterComponent registers a new component for health tracking.
// internal/host registers "bridge" and "provider" at startup.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: time.Now(),
			LastHealthCheck: time.Now(),
			Metadata:        make(map[string]interface{}),
		}
	}
}

// RecordSuccess records a successful call for a component, unwinding
// its consecutive-error count and recovering to healthy once it hits
// zero.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	health, exists := t.components[component]
	if !exists {
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()

	if health.ConsecutiveErrors > 0 {
		health.ConsecutiveErrors--

		if health.ConsecutiveErrors == 0 && health.State != StateHealthy {
			t.transitionState(health, StateHealthy, nil)
		}
	}

	for _, listener := range t.healthListeners {
		listener.OnHealthCheck(component, true, nil)
	}

	if oldState != health.State {
		t.notifyStateChange(component, oldState, health.State, nil)
	}
}

// RecordError records a failed call for a component: a fetch that
// failed after the bridge's retries were exhausted, or a ProjFS
// platform call that errored. A platform error that the logical
// filesystem can't route around (see isUnrecoverable) escalates
// straight to unavailable rather than waiting out the threshold.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	health, exists := t.components[component]
	if !exists {
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()
	health.ConsecutiveErrors++
	health.LastError = err
	if err != nil {
		health.LastErrorMessage = err.Error()
	}

	var newState HealthState
	switch {
	case t.isUnrecoverable(err):
		newState = StateUnavailable
	case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case health.ConsecutiveErrors >= t.config.StaleOnlyThreshold:
		newState = StateStaleOnly
	case health.ConsecutiveErrors >= t.config.ErrorThreshold:
		newState = StateDegraded
	default:
		newState = health.State
	}

	if newState != oldState {
		t.transitionState(health, newState, err)
	}

	for _, listener := range t.healthListeners {
		listener.OnHealthCheck(component, false, err)
	}

	if oldState != health.State {
		t.notifyStateChange(component, oldState, health.State, err)
	}
}

// GetState returns the current health state of a component.
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns the health information for a component.
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}

	return &ComponentHealth{
		Name:              health.Name,
		State:             health.State,
		LastStateChange:   health.LastStateChange,
		LastHealthCheck:   health.LastHealthCheck,
		ConsecutiveErrors: health.ConsecutiveErrors,
		LastError:         health.LastError,
		LastErrorMessage:  health.LastErrorMessage,
		Metadata:          health.Metadata,
	}, nil
}

// GetAllComponents returns health information for all registered components.
func (t *Tracker) GetAllComponents() map[string]*ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*ComponentHealth)
	for name, health := range t.components {
		result[name] = &ComponentHealth{
			Name:              health.Name,
			State:             health.State,
			LastStateChange:   health.LastStateChange,
			LastHealthCheck:   health.LastHealthCheck,
			ConsecutiveErrors: health.ConsecutiveErrors,
			LastError:         health.LastError,
			LastErrorMessage:  health.LastErrorMessage,
			Metadata:          health.Metadata,
		}
	}
	return result
}

// GetOverallHealth returns internal/host's reported health: the worst
// state across the bridge and provider components.
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.components) == 0 {
		return StateHealthy
	}

	overallState := StateHealthy
	for _, health := range t.components {
		if health.State > overallState {
			overallState = health.State
		}
	}

	return overallState
}

// IsHealthy returns true if the component is in a healthy state.
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// CanServeFresh reports whether the component should still be trusted
// to schedule new fetches into the logical filesystem, as opposed to
// only serving whatever is already in the Content Cache.
func (t *Tracker) CanServeFresh(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded
}

// AddStateChangeCallback registers a callback for state changes to a specific state.
func (t *Tracker) AddStateChangeCallback(state HealthState, callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stateCallbacks[state] = append(t.stateCallbacks[state], callback)
}

// AddHealthListener registers a health listener.
func (t *Tracker) AddHealthListener(listener HealthListener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.healthListeners = append(t.healthListeners, listener)
}

// SetComponentMetadata sets metadata for a component.
func (t *Tracker) SetComponentMetadata(component, key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if health, exists := t.components[component]; exists {
		health.Metadata[key] = value
	}
}

// transitionState transitions a component to a new state (must be called with lock held).
func (t *Tracker) transitionState(health *ComponentHealth, newState HealthState, err error) {
	health.State = newState
	health.LastStateChange = time.Now()

	if newState == StateHealthy {
		health.ConsecutiveErrors = 0
		health.LastError = nil
		health.LastErrorMessage = ""
	}
}

// notifyStateChange notifies all callbacks and listeners of a state change.
func (t *Tracker) notifyStateChange(component string, oldState, newState HealthState, err error) {
	if callbacks, exists := t.stateCallbacks[newState]; exists {
		for _, callback := range callbacks {
			go callback(component, oldState, newState, err)
		}
	}

	for _, listener := range t.healthListeners {
		go listener.OnStateChange(component, oldState, newState, err)
	}
}

// isUnrecoverable reports whether err reflects a failure the bridge's
// retries cannot route around: the ProjFS platform call itself
// failing, or the kind of access/mount error that means the
// projection has no path to recovery short of a restart.
func (t *Tracker) isUnrecoverable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *errors.ProviderError
	if stderr.As(err, &provErr) {
		switch provErr.Code {
		case errors.ErrCodePlatformAPI,
			errors.ErrCodeMountFailed,
			errors.ErrCodeAccessDenied,
			errors.ErrCodePermissionDenied:
			return true
		}
	}

	return false
}

// StartHealthChecks starts periodic health checks for all components.
func (t *Tracker) StartHealthChecks(ctx context.Context, checkFn func(component string) error) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.performHealthChecks(checkFn)
		}
	}
}

// performHealthChecks performs health checks on all registered components.
func (t *Tracker) performHealthChecks(checkFn func(component string) error) {
	t.mu.RLock()
	components := make([]string, 0, len(t.components))
	for name := range t.components {
		components = append(components, name)
	}
	t.mu.RUnlock()

	for _, component := range components {
		err := checkFn(component)
		if err != nil {
			t.RecordError(component, err)
		} else {
			t.RecordSuccess(component)
		}
	}
}
