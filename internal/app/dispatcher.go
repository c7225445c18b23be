package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ota_sync/internal/adapters/observability"
	"ota_sync/internal/domain"
)

type DispatcherOptions struct {
	Workers     int           // concurrent room partitions
	MaxDays     int           // widest date window the channel accepts per call
	CallTimeout time.Duration // per outbound call, independent of the caller
}

// Dispatcher pushes rates and inventory to the channel manager.
type Dispatcher struct {
	mappings *MappingService
	client   domain.ChannelClient
	ledger   *Ledger
	opts     DispatcherOptions
	now      func() time.Time
}

func NewDispatcher(m *MappingService, c domain.ChannelClient, l *Ledger, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 31
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Dispatcher{mappings: m, client: c, ledger: l, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// PushRates sends rates for every day in r. A returned error means nothing was
// sent (validation or lookup failure); remote outcomes live in PushResult.
func (d *Dispatcher) PushRates(ctx context.Context, propertyID int64, r domain.DateRange, updates []domain.RateUpdate) (domain.PushResult, error) {
	if err := r.Validate(); err != nil {
		return domain.PushResult{}, err
	}
	if len(updates) == 0 {
		return domain.PushResult{}, domain.NewValidationError("rates", "at least one rate is required")
	}
	for i, u := range updates {
		if u.Rate.IsNegative() {
			return domain.PushResult{}, domain.NewValidationError(fmt.Sprintf("rates[%d].rate", i), "must not be negative")
		}
	}

	snap, err := d.snapshot(ctx, propertyID)
	if err != nil {
		return domain.PushResult{}, err
	}
	rooms, err := resolveRates(snap, updates)
	if err != nil {
		return domain.PushResult{}, err
	}
	parts, err := buildRatePartitions(snap.Config, normalize(r), d.opts.MaxDays, rooms)
	if err != nil {
		return domain.PushResult{}, err
	}
	return d.run(ctx, snap.Config, kindRates, parts), nil
}

// PushInventory sends availability for every day in r.
func (d *Dispatcher) PushInventory(ctx context.Context, propertyID int64, r domain.DateRange, updates []domain.InventoryUpdate) (domain.PushResult, error) {
	for i, u := range updates {
		if u.AvailableCount < 0 {
			return domain.PushResult{}, domain.NewValidationError(fmt.Sprintf("inventory[%d].availableCount", i), "must not be negative")
		}
	}
	if err := r.Validate(); err != nil {
		return domain.PushResult{}, err
	}
	if len(updates) == 0 {
		return domain.PushResult{}, domain.NewValidationError("inventory", "at least one room is required")
	}

	snap, err := d.snapshot(ctx, propertyID)
	if err != nil {
		return domain.PushResult{}, err
	}
	rooms, err := resolveInventory(snap, updates)
	if err != nil {
		return domain.PushResult{}, err
	}
	parts, err := buildInventoryPartitions(snap.Config, normalize(r), d.opts.MaxDays, rooms)
	if err != nil {
		return domain.PushResult{}, err
	}
	return d.run(ctx, snap.Config, kindInventory, parts), nil
}

// snapshot is taken once per push and used for the whole run.
func (d *Dispatcher) snapshot(ctx context.Context, propertyID int64) (domain.MappingSnapshot, error) {
	snap, err := d.mappings.GetMappingsForProperty(ctx, propertyID)
	if err != nil {
		return domain.MappingSnapshot{}, err
	}
	if !snap.Config.IsActive {
		return domain.MappingSnapshot{}, domain.NewValidationError("channel", "sync is disabled for this property")
	}
	return snap, nil
}

func normalize(r domain.DateRange) domain.DateRange {
	return domain.DateRange{Start: dayOf(r.Start), End: dayOf(r.End)}
}

func resolveRates(snap domain.MappingSnapshot, updates []domain.RateUpdate) ([]resolvedRoom[rateEntry], error) {
	byRoom := map[int64][]rateEntry{}
	seen := map[string]struct{}{}
	for i, u := range updates {
		room, ok := snap.Room(u.RoomMappingID)
		if !ok {
			return nil, domain.NewValidationError(fmt.Sprintf("rates[%d].roomMappingId", i), fmt.Sprintf("room mapping %d not found for this property", u.RoomMappingID))
		}
		plans := room.RatePlans
		if u.RatePlanCode != "" {
			plans = nil
			for _, p := range room.RatePlans {
				if p.Code == u.RatePlanCode {
					plans = append(plans, p)
				}
			}
		}
		if len(plans) == 0 {
			return nil, domain.NewValidationError(fmt.Sprintf("rates[%d]", i), fmt.Sprintf("room %s has no matching rate plan", room.ExternalRoomCode))
		}
		for _, p := range plans {
			k := fmt.Sprintf("%d/%s", room.ID, p.Code)
			if _, dup := seen[k]; dup {
				return nil, domain.NewValidationError(fmt.Sprintf("rates[%d]", i), fmt.Sprintf("rate plan %s of room %s given twice", p.Code, room.ExternalRoomCode))
			}
			seen[k] = struct{}{}
			byRoom[room.ID] = append(byRoom[room.ID], rateEntry{
				RoomCode:     room.ExternalRoomCode,
				Rate:         json.Number(u.Rate.String()),
				RatePlanCode: p.Code,
			})
		}
	}
	out := make([]resolvedRoom[rateEntry], 0, len(byRoom))
	for _, room := range snap.Rooms {
		if es, ok := byRoom[room.ID]; ok {
			sort.SliceStable(es, func(i, j int) bool { return es[i].RatePlanCode < es[j].RatePlanCode })
			out = append(out, resolvedRoom[rateEntry]{Mapping: room, Entries: es})
		}
	}
	return out, nil
}

func resolveInventory(snap domain.MappingSnapshot, updates []domain.InventoryUpdate) ([]resolvedRoom[roomEntry], error) {
	byRoom := map[int64]roomEntry{}
	for i, u := range updates {
		room, ok := snap.Room(u.RoomMappingID)
		if !ok {
			return nil, domain.NewValidationError(fmt.Sprintf("inventory[%d].roomMappingId", i), fmt.Sprintf("room mapping %d not found for this property", u.RoomMappingID))
		}
		if _, dup := byRoom[room.ID]; dup {
			return nil, domain.NewValidationError(fmt.Sprintf("inventory[%d]", i), fmt.Sprintf("room %s given twice", room.ExternalRoomCode))
		}
		byRoom[room.ID] = roomEntry{RoomCode: room.ExternalRoomCode, Available: u.AvailableCount}
	}
	out := make([]resolvedRoom[roomEntry], 0, len(byRoom))
	for _, room := range snap.Rooms {
		if e, ok := byRoom[room.ID]; ok {
			out = append(out, resolvedRoom[roomEntry]{Mapping: room, Entries: []roomEntry{e}})
		}
	}
	return out, nil
}

type outcome struct {
	batch    subBatch
	accepted bool
	message  string
}

// run fans partitions out over a bounded pool. Cancelling ctx stops each
// partition before its next sub-batch; calls already in flight finish and
// are logged.
func (d *Dispatcher) run(ctx context.Context, cfg domain.ChannelConfig, kind pushKind, parts []partition) domain.PushResult {
	var (
		mu       sync.Mutex
		outcomes []outcome
	)
	record := func(o outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for _, p := range parts {
		g.Go(func() error {
			for _, b := range p {
				if ctx.Err() != nil {
					record(outcome{batch: b, message: "cancelled before send"})
					continue
				}
				record(d.send(ctx, cfg, kind, b))
			}
			return nil
		})
	}
	_ = g.Wait()

	return d.summarize(ctx, cfg, kind, parts, outcomes)
}

func (d *Dispatcher) send(ctx context.Context, cfg domain.ChannelConfig, kind pushKind, b subBatch) outcome {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	var (
		ex  domain.Exchange
		err error
	)
	if kind == kindRates {
		ex, err = d.client.PushRates(callCtx, cfg.Endpoint(), b.Key, b.Body)
	} else {
		ex, err = d.client.PushInventory(callCtx, cfg.Endpoint(), b.Key, b.Body)
	}

	entry := domain.SyncLogEntry{
		PropertyID:      &cfg.PropertyID,
		ConfigID:        &cfg.ID,
		SyncType:        kind.syncType(),
		Direction:       domain.Outbound,
		Status:          domain.StatusSuccess,
		ExternalRef:     b.Key,
		RequestPayload:  b.Body,
		ResponsePayload: ex.Response,
	}
	o := outcome{batch: b, accepted: err == nil, message: ex.Message}
	if err != nil {
		var rej *domain.ExternalRejectionError
		if errors.As(err, &rej) {
			entry.Status = domain.StatusFailed
		} else {
			entry.Status = domain.StatusError
		}
		entry.ErrorMessage = err.Error()
		o.message = err.Error()
		observability.ObserveSyncError(string(entry.SyncType), err)
	}
	if _, lerr := d.ledger.Append(ctx, entry); lerr != nil {
		log.Error().Err(lerr).Str("key", b.Key).Msg("ledger append failed for outbound sub-batch")
	}

	log.Debug().Int64("config_id", cfg.ID).Str("room_code", b.RoomCode).
		Str("window", b.Window.String()).Bool("accepted", o.accepted).
		Dur("duration", time.Since(start)).Msg("sub-batch sent")
	return o
}

func (d *Dispatcher) summarize(ctx context.Context, cfg domain.ChannelConfig, kind pushKind, parts []partition, outcomes []outcome) domain.PushResult {
	// deterministic order: snapshot room order, then date
	order := map[string]int{}
	i := 0
	for _, p := range parts {
		for _, b := range p {
			order[b.Key] = i
			i++
		}
	}
	sort.Slice(outcomes, func(a, b int) bool { return order[outcomes[a].batch.Key] < order[outcomes[b].batch.Key] })

	res := domain.PushResult{Batches: len(outcomes)}
	var msgs []string
	for _, o := range outcomes {
		if o.accepted {
			res.Accepted++
			continue
		}
		fr := domain.FailedRange{
			RoomCode: o.batch.RoomCode,
			Range:    o.batch.Window,
			Start:    o.batch.Window.Start.Format(domain.DateLayout),
			End:      o.batch.Window.End.Format(domain.DateLayout),
			Error:    o.message,
		}
		res.Failed = append(res.Failed, fr)
		msgs = append(msgs, fmt.Sprintf("%s %s: %s", fr.RoomCode, o.batch.Window, o.message))
	}
	res.Success = len(res.Failed) == 0

	if res.Accepted > 0 {
		d.mappings.MarkSynced(context.WithoutCancel(ctx), cfg, d.now())
	}

	switch {
	case res.Success && len(outcomes) == 1:
		res.Message = outcomes[0].message
	case res.Success:
		res.Message = fmt.Sprintf("%s pushed in %d sub-batches", kind, res.Batches)
	default:
		res.Message = fmt.Sprintf("%d of %d sub-batches failed: %s", len(res.Failed), res.Batches, strings.Join(msgs, "; "))
	}

	log.Info().Int64("property_id", cfg.PropertyID).Int64("config_id", cfg.ID).
		Str("sync_type", string(kind.syncType())).Int("batches", res.Batches).
		Int("accepted", res.Accepted).Int("failed", len(res.Failed)).
		Msg("push finished")
	return res
}
