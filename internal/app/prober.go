package app

import (
	"context"
	"errors"
	"time"

	"ota_sync/internal/adapters/observability"
	"ota_sync/internal/domain"
)

// Prober checks stored credentials against the channel manager.
type Prober struct {
	mappings *MappingService
	client   domain.ChannelClient
	ledger   *Ledger
	timeout  time.Duration
}

func NewProber(m *MappingService, c domain.ChannelClient, l *Ledger, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{mappings: m, client: c, ledger: l, timeout: timeout}
}

// TestConnection never returns an error. Every outcome is a ProbeResult plus
// exactly one connection_test ledger row.
func (p *Prober) TestConnection(ctx context.Context, propertyID int64) domain.ProbeResult {
	entry := domain.SyncLogEntry{
		PropertyID: &propertyID,
		SyncType:   domain.SyncConnectionTest,
		Direction:  domain.Outbound,
	}

	res := p.probe(ctx, propertyID, &entry)
	if res.Success {
		entry.Status = domain.StatusSuccess
	} else {
		entry.ErrorMessage = res.Message
	}
	if _, err := p.ledger.Append(ctx, entry); err != nil {
		res.Message += " (ledger write failed)"
	}
	return res
}

func (p *Prober) probe(ctx context.Context, propertyID int64, entry *domain.SyncLogEntry) domain.ProbeResult {
	entry.Status = domain.StatusError

	cfg, err := p.mappings.repo.GetConfig(ctx, propertyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ProbeResult{Success: false, Message: "channel is not configured for this property"}
		}
		return domain.ProbeResult{Success: false, Message: err.Error()}
	}
	entry.ConfigID = &cfg.ID

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ex, err := p.client.TestConnection(callCtx, cfg.Endpoint())
	entry.RequestPayload = ex.Request
	entry.ResponsePayload = ex.Response
	if err != nil {
		observability.ObserveSyncError(string(domain.SyncConnectionTest), err)
		var rej *domain.ExternalRejectionError
		if errors.As(err, &rej) {
			entry.Status = domain.StatusFailed
		}
		return domain.ProbeResult{Success: false, Message: err.Error()}
	}
	return domain.ProbeResult{Success: true, Message: ex.Message}
}
