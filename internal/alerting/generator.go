package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Outcome reports what the generator did with one flagged transaction.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCreated
	OutcomeMerged
)

// Generator converts flagged transactions into alerts, deduplicating
// against the open alert for the same (account, type) pair. The merge
// rule is what prevents alert flooding from repeated detector hits on
// the same ongoing pattern.
type Generator struct {
	store      domain.Store
	bus        domain.EventBus
	thresholds domain.SeverityThresholds
	locks      *keyedMutex
	now        func() time.Time
}

// NewGenerator creates an alert generator. bus may be nil.
func NewGenerator(store domain.Store, bus domain.EventBus, thresholds domain.SeverityThresholds) *Generator {
	return &Generator{
		store:      store,
		bus:        bus,
		thresholds: thresholds,
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
}

// Process inspects a scored transaction and creates or merges an alert
// when any detector fired. The per-(account, type) lock is held across
// the whole find-open/create-or-merge sequence.
func (g *Generator) Process(ctx context.Context, tx *domain.Transaction) (Outcome, *domain.Alert, error) {
	typ, ok := detect.TypeForFlags(tx.Flags)
	if !ok {
		return OutcomeNone, nil, nil
	}

	account := alertAccount(tx, typ)
	key := account + "\x00" + string(typ)
	g.locks.Lock(key)
	defer g.locks.Unlock(key)

	open, err := g.store.FindOpenAlert(ctx, account, typ)
	if err != nil && err != domain.ErrNotFound {
		return OutcomeNone, nil, fmt.Errorf("find open alert: %w", err)
	}

	now := g.now().UTC()
	if open == nil {
		alert := g.newAlert(tx, account, typ, now)
		if err := g.store.PutAlert(ctx, alert); err != nil {
			return OutcomeNone, nil, fmt.Errorf("create alert: %w", err)
		}
		g.publish(ctx, domain.TopicAlertCreated, alert)
		return OutcomeCreated, alert, nil
	}

	g.merge(open, tx, now)
	if err := g.store.PutAlert(ctx, open); err != nil {
		return OutcomeNone, nil, fmt.Errorf("merge alert: %w", err)
	}
	g.publish(ctx, domain.TopicAlertUpdated, open)
	return OutcomeMerged, open, nil
}

// alertAccount picks which account the alert attaches to: the recipient
// for concentration findings, the sender for everything else.
func alertAccount(tx *domain.Transaction, typ domain.AlertType) string {
	if typ == domain.AlertTypeRecipient {
		return tx.ToAccount
	}
	return tx.FromAccount
}

func (g *Generator) newAlert(tx *domain.Transaction, account string, typ domain.AlertType, now time.Time) *domain.Alert {
	amount := tx.Amount
	return &domain.Alert{
		ID:          uuid.NewString(),
		Type:        typ,
		Severity:    domain.SeverityForScore(tx.RiskScore, g.thresholds),
		Title:       alertTitle(typ),
		Description: alertDescription(tx, typ, 1),
		AccountID:   account,
		Amount:      &amount,
		PeakScore:   tx.RiskScore,
		TxRefs:      []string{tx.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      domain.AlertStatusActive,
	}
}

// merge folds new triggering evidence into the open alert: description
// and timestamp refresh, severity only ever escalates.
func (g *Generator) merge(alert *domain.Alert, tx *domain.Transaction, now time.Time) {
	alert.TxRefs = append(alert.TxRefs, tx.ID)
	alert.UpdatedAt = now
	alert.Description = alertDescription(tx, alert.Type, len(alert.TxRefs))

	if tx.RiskScore > alert.PeakScore {
		alert.PeakScore = tx.RiskScore
		alert.Severity = domain.SeverityForScore(tx.RiskScore, g.thresholds)
		amount := tx.Amount
		alert.Amount = &amount
	}
}

func alertTitle(typ domain.AlertType) string {
	switch typ {
	case domain.AlertTypeRecipient:
		return "Recipient concentration"
	case domain.AlertTypePattern:
		return "Suspicious transaction pattern"
	case domain.AlertTypeAmount:
		return "Unusually large amount"
	case domain.AlertTypeFrequency:
		return "Transaction frequency spike"
	default:
		return "Suspicious activity"
	}
}

func alertDescription(tx *domain.Transaction, typ domain.AlertType, contributing int) string {
	return fmt.Sprintf("%s detected for account %s: %d contributing transaction(s), latest %s for %s on %s",
		alertTitle(typ), alertAccount(tx, typ), contributing,
		tx.ID, tx.Amount.StringFixed(2), tx.Date.Format("2006-01-02"))
}

func (g *Generator) publish(ctx context.Context, topic string, alert *domain.Alert) {
	if g.bus == nil {
		return
	}
	payload := []byte(fmt.Sprintf(`{"alertId":%q,"accountId":%q,"type":%q,"severity":%q}`,
		alert.ID, alert.AccountID, alert.Type, alert.Severity))
	if err := g.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish alert event",
			"topic", topic,
			"alert_id", alert.ID,
			"error", err,
		)
	}
}
