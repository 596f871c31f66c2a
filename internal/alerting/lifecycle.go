package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// allowedTransitions is the alert workflow state machine. active is the
// initial state; resolved and dismissed are terminal.
// investigating -> active re-opens an alert taken up in error.
var allowedTransitions = map[domain.AlertStatus][]domain.AlertStatus{
	domain.AlertStatusActive:        {domain.AlertStatusInvestigating, domain.AlertStatusDismissed},
	domain.AlertStatusInvestigating: {domain.AlertStatusResolved, domain.AlertStatusActive},
	domain.AlertStatusResolved:      {},
	domain.AlertStatusDismissed:     {},
}

// ValidStatus reports whether s names a workflow state.
func ValidStatus(s domain.AlertStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to domain.AlertStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle is the only component permitted to mutate alert status after
// creation. Each transition is atomic: the read-validate-write sequence
// holds a per-alert lock.
type Lifecycle struct {
	store domain.Store
	locks *keyedMutex
	now   func() time.Time
}

// NewLifecycle creates the alert lifecycle manager.
func NewLifecycle(store domain.Store) *Lifecycle {
	return &Lifecycle{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// Transition moves an alert to the requested status, returning the
// updated alert. An illegal move fails with *domain.InvalidTransitionError
// and mutates nothing.
func (l *Lifecycle) Transition(ctx context.Context, alertID string, to domain.AlertStatus) (*domain.Alert, error) {
	if !ValidStatus(to) {
		return nil, fmt.Errorf("unknown alert status %q", to)
	}

	l.locks.Lock(alertID)
	defer l.locks.Unlock(alertID)

	alert, err := l.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(alert.Status, to) {
		return nil, &domain.InvalidTransitionError{
			AlertID:   alertID,
			Current:   alert.Status,
			Requested: to,
		}
	}

	now := l.now().UTC()
	if err := l.store.UpdateAlertStatus(ctx, alertID, to, now); err != nil {
		return nil, err
	}

	alert.Status = to
	alert.UpdatedAt = now
	return alert, nil
}

// List returns stored alerts matching the filter. Pure projection, no
// side effects.
func (l *Lifecycle) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	return l.store.ListAlerts(ctx, filter)
}

// Get returns one alert by ID.
func (l *Lifecycle) Get(ctx context.Context, alertID string) (*domain.Alert, error) {
	return l.store.GetAlert(ctx, alertID)
}

// Summary aggregates counts by status, severity and type over all
// stored alerts.
func (l *Lifecycle) Summary(ctx context.Context) (*domain.AlertSummary, error) {
	alerts, err := l.store.ListAlerts(ctx, domain.AlertFilter{})
	if err != nil {
		return nil, err
	}

	summary := &domain.AlertSummary{
		Total:      len(alerts),
		ByStatus:   make(map[domain.AlertStatus]int),
		BySeverity: make(map[domain.Severity]int),
		ByType:     make(map[domain.AlertType]int),
	}
	for _, a := range alerts {
		summary.ByStatus[a.Status]++
		summary.BySeverity[a.Severity]++
		summary.ByType[a.Type]++
	}
	return summary, nil
}
