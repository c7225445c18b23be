package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"ota_sync/internal/adapters/observability"
	"ota_sync/internal/domain"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// Ledger is the append-only sync audit log. It has no update or delete path.
type Ledger struct {
	repo domain.SyncLogRepository
	now  func() time.Time
}

func NewLedger(r domain.SyncLogRepository) *Ledger {
	return &Ledger{repo: r, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) Append(ctx context.Context, e domain.SyncLogEntry) (domain.SyncLogEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	// the ledger row must land even when the triggering request was cancelled
	out, err := l.repo.Append(context.WithoutCancel(ctx), e)
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("sync_type", string(e.SyncType)).
		Str("direction", string(e.Direction)).
		Str("status", string(e.Status)).
		Str("external_ref", e.ExternalRef).
		Str("error_message", e.ErrorMessage).
		Bool("needs_review", e.NeedsReview).
		Msg("sync_log")
	if err != nil {
		return e, err
	}
	observability.ObserveSync(string(e.Direction), string(e.SyncType), string(e.Status))
	return out, nil
}

// Query returns newest-first rows for one property.
func (l *Ledger) Query(ctx context.Context, propertyID int64, f domain.LogFilter) (domain.LogPage, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLogLimit
	}
	if f.Limit > maxLogLimit {
		f.Limit = maxLogLimit
	}
	switch f.Direction {
	case "", domain.Inbound, domain.Outbound:
	default:
		return domain.LogPage{}, domain.NewValidationError("direction", "must be inbound or outbound")
	}
	switch f.Status {
	case "", domain.StatusSuccess, domain.StatusFailed, domain.StatusError, domain.StatusReceived:
	default:
		return domain.LogPage{}, domain.NewValidationError("status", "unknown status")
	}
	return l.repo.Query(ctx, propertyID, f)
}

// Seen reports whether a row with the given outcome exists for externalRef.
func (l *Ledger) Seen(ctx context.Context, configID int64, t domain.SyncType, externalRef string, status domain.SyncStatus) (bool, error) {
	return l.repo.HasStatus(ctx, configID, t, externalRef, status)
}
