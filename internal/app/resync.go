package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"ota_sync/internal/domain"
)

// ResyncService republishes base rates and live availability for every
// active channel config over a rolling horizon.
type ResyncService struct {
	mappings   *MappingService
	dispatcher *Dispatcher
	avail      domain.AvailabilitySource
	horizon    int
	workers    int
	now        func() time.Time
}

func NewResyncService(m *MappingService, d *Dispatcher, a domain.AvailabilitySource, horizonDays, workers int) *ResyncService {
	if horizonDays <= 0 {
		horizonDays = 90
	}
	if workers <= 0 {
		workers = 4
	}
	return &ResyncService{mappings: m, dispatcher: d, avail: a, horizon: horizonDays, workers: workers, now: func() time.Time { return time.Now().UTC() }}
}

type ResyncReport struct {
	Properties int
	Failed     int
}

// RunAll resyncs every active property, at most workers at a time.
func (s *ResyncService) RunAll(ctx context.Context) (ResyncReport, error) {
	cfgs, err := s.mappings.ActiveConfigs(ctx)
	if err != nil {
		return ResyncReport{}, err
	}

	var (
		rep ResyncReport
		mu  sync.Mutex
		wg  sync.WaitGroup
	)
	sem := semaphore.NewWeighted(int64(s.workers))
	for _, cfg := range cfgs {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(cfg domain.ChannelConfig) {
			defer wg.Done()
			defer sem.Release(1)

			err := s.ResyncProperty(ctx, cfg.PropertyID)
			mu.Lock()
			rep.Properties++
			if err != nil {
				rep.Failed++
			}
			mu.Unlock()
			if err != nil {
				log.Warn().Int64("property_id", cfg.PropertyID).Err(err).Msg("resync failed")
				return
			}
			log.Info().Int64("property_id", cfg.PropertyID).Msg("resync ok")
		}(cfg)
	}
	wg.Wait()
	return rep, ctx.Err()
}

// ResyncProperty pushes every rate plan's base rate and per-night
// availability from today through the horizon.
func (s *ResyncService) ResyncProperty(ctx context.Context, propertyID int64) error {
	snap, err := s.mappings.GetMappingsForProperty(ctx, propertyID)
	if err != nil {
		return err
	}
	start := dayOf(s.now())
	window := domain.DateRange{Start: start, End: start.AddDate(0, 0, s.horizon-1)}

	var rates []domain.RateUpdate
	for _, rm := range snap.Rooms {
		for _, p := range rm.RatePlans {
			rates = append(rates, domain.RateUpdate{RoomMappingID: rm.ID, Rate: p.BaseRate, RatePlanCode: p.Code})
		}
	}
	var failures int
	if len(rates) > 0 {
		res, err := s.dispatcher.PushRates(ctx, propertyID, window, rates)
		if err != nil {
			return err
		}
		if !res.Success {
			failures++
		}
	}

	for _, rm := range snap.Rooms {
		runs, err := s.availabilityRuns(ctx, propertyID, rm.InternalRoomType, window)
		if err != nil {
			return err
		}
		for _, run := range runs {
			res, err := s.dispatcher.PushInventory(ctx, propertyID, run.DateRange,
				[]domain.InventoryUpdate{{RoomMappingID: rm.ID, AvailableCount: run.count}})
			if err != nil {
				return err
			}
			if !res.Success {
				failures++
			}
		}
	}
	if failures > 0 {
		return fmt.Errorf("resync property %d: %d pushes not accepted", propertyID, failures)
	}
	return nil
}

type availabilityRun struct {
	domain.DateRange
	count int
}

// availabilityRuns collapses consecutive nights with equal availability.
func (s *ResyncService) availabilityRuns(ctx context.Context, propertyID int64, roomType string, w domain.DateRange) ([]availabilityRun, error) {
	var runs []availabilityRun
	for night := w.Start; !night.After(w.End); night = night.AddDate(0, 0, 1) {
		n, err := s.avail.AvailableRooms(ctx, propertyID, roomType, night)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			n = 0
		}
		if k := len(runs); k > 0 && runs[k-1].count == n {
			runs[k-1].End = night
			continue
		}
		runs = append(runs, availabilityRun{DateRange: domain.DateRange{Start: night, End: night}, count: n})
	}
	return runs, nil
}
