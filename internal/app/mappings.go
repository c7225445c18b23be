package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ota_sync/internal/domain"
)

// MappingService is the Mapping Store. Reads go through the cache; every
// write evicts what it touched.
type MappingService struct {
	repo     domain.MappingRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewMappingService(r domain.MappingRepository, c domain.Cache, ttl time.Duration) *MappingService {
	return &MappingService{repo: r, cache: c, cacheTTL: ttl}
}

func snapshotKey(propertyID int64) string { return fmt.Sprintf("channel:mappings:%d", propertyID) }
func hotelKey(code string) string         { return "channel:hotel:" + strings.ToUpper(code) }

func (s *MappingService) UpsertConfig(ctx context.Context, propertyID int64, in domain.ConfigInput) (domain.ChannelConfig, error) {
	in.HotelCode = strings.TrimSpace(in.HotelCode)
	in.PMSIdentifier = strings.TrimSpace(in.PMSIdentifier)
	in.APIBaseURL = strings.TrimSpace(in.APIBaseURL)
	if propertyID <= 0 {
		return domain.ChannelConfig{}, domain.NewValidationError("propertyId", "must be positive")
	}
	if in.HotelCode == "" {
		return domain.ChannelConfig{}, domain.NewValidationError("hotelCode", "is required")
	}
	if in.APIBaseURL != "" && !strings.HasPrefix(in.APIBaseURL, "http://") && !strings.HasPrefix(in.APIBaseURL, "https://") {
		return domain.ChannelConfig{}, domain.NewValidationError("apiBaseUrl", "must be an http(s) URL")
	}

	// the old hotel code may be cached against this property
	prev, err := s.repo.GetConfig(ctx, propertyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.ChannelConfig{}, err
	}

	cfg, err := s.repo.UpsertConfig(ctx, propertyID, in)
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	s.evict(ctx, propertyID, prev.ExternalHotelCode, cfg.ExternalHotelCode)
	log.Info().Int64("property_id", propertyID).Int64("config_id", cfg.ID).
		Str("hotel_code", cfg.ExternalHotelCode).Bool("sandbox", cfg.IsSandbox).
		Msg("channel config saved")
	return cfg, nil
}

func (s *MappingService) SetRoomMappings(ctx context.Context, configID int64, rooms []domain.RoomMappingInput) error {
	seenType := make(map[string]struct{}, len(rooms))
	seenCode := make(map[string]struct{}, len(rooms))
	for i := range rooms {
		rooms[i].InternalRoomType = strings.TrimSpace(rooms[i].InternalRoomType)
		rooms[i].ExternalRoomCode = strings.TrimSpace(rooms[i].ExternalRoomCode)
		r := rooms[i]
		if r.InternalRoomType == "" || r.ExternalRoomCode == "" {
			return domain.NewValidationError(fmt.Sprintf("rooms[%d]", i), "internalRoomType and externalRoomCode are required")
		}
		if r.InternalRoomType == domain.PlaceholderRoomType {
			return domain.NewValidationError(fmt.Sprintf("rooms[%d].internalRoomType", i), "is reserved")
		}
		if _, dup := seenType[r.InternalRoomType]; dup {
			return domain.NewValidationError("internalRoomType", fmt.Sprintf("duplicate %q", r.InternalRoomType))
		}
		if _, dup := seenCode[r.ExternalRoomCode]; dup {
			return domain.NewValidationError("externalRoomCode", fmt.Sprintf("duplicate %q", r.ExternalRoomCode))
		}
		seenType[r.InternalRoomType] = struct{}{}
		seenCode[r.ExternalRoomCode] = struct{}{}
	}
	if err := s.repo.ReplaceRoomMappings(ctx, configID, rooms); err != nil {
		return err
	}
	s.evictConfigID(ctx, configID)
	return nil
}

func (s *MappingService) SetRatePlans(ctx context.Context, roomMappingID int64, plans []domain.RatePlanInput) error {
	seen := make(map[string]struct{}, len(plans))
	for i := range plans {
		plans[i].Code = strings.TrimSpace(plans[i].Code)
		plans[i].Name = strings.TrimSpace(plans[i].Name)
		p := plans[i]
		if p.Code == "" {
			return domain.NewValidationError(fmt.Sprintf("ratePlans[%d].code", i), "is required")
		}
		if p.BaseRate.IsNegative() {
			return domain.NewValidationError(fmt.Sprintf("ratePlans[%d].baseRate", i), "must not be negative")
		}
		if p.Occupancy < 0 {
			return domain.NewValidationError(fmt.Sprintf("ratePlans[%d].occupancy", i), "must not be negative")
		}
		if _, dup := seen[p.Code]; dup {
			return domain.NewValidationError("code", fmt.Sprintf("duplicate %q", p.Code))
		}
		seen[p.Code] = struct{}{}
	}
	rm, err := s.repo.GetRoomMapping(ctx, roomMappingID)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceRatePlans(ctx, roomMappingID, plans); err != nil {
		return err
	}
	s.evictConfigID(ctx, rm.ConfigID)
	return nil
}

// GetMappingsForProperty returns the config and its mappings in insertion
// order. The result is a snapshot: later edits do not alter it.
func (s *MappingService) GetMappingsForProperty(ctx context.Context, propertyID int64) (domain.MappingSnapshot, error) {
	key := snapshotKey(propertyID)
	var snap domain.MappingSnapshot
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &snap); ok {
			return snap, nil
		}
	}
	snap, err := s.repo.LoadSnapshot(ctx, propertyID)
	if err != nil {
		return domain.MappingSnapshot{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, snap, int(s.cacheTTL.Seconds()))
	}
	return snap, nil
}

// ConfigByHotelCode resolves an inbound hotel code.
func (s *MappingService) ConfigByHotelCode(ctx context.Context, code string) (domain.ChannelConfig, error) {
	key := hotelKey(code)
	var cfg domain.ChannelConfig
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &cfg); ok {
			return cfg, nil
		}
	}
	cfg, err := s.repo.GetConfigByHotelCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, cfg, int(s.cacheTTL.Seconds()))
	}
	return cfg, nil
}

func (s *MappingService) ActiveConfigs(ctx context.Context) ([]domain.ChannelConfig, error) {
	return s.repo.ListActiveConfigs(ctx)
}

// MarkSynced stamps lastSyncAt. Failures are logged, not returned: the push
// itself already succeeded.
func (s *MappingService) MarkSynced(ctx context.Context, cfg domain.ChannelConfig, at time.Time) {
	if err := s.repo.TouchLastSync(ctx, cfg.ID, at); err != nil {
		log.Warn().Err(err).Int64("config_id", cfg.ID).Msg("touch last_sync_at failed")
		return
	}
	s.evict(ctx, cfg.PropertyID, cfg.ExternalHotelCode)
}

func (s *MappingService) evictConfigID(ctx context.Context, configID int64) {
	if s.cache == nil {
		return
	}
	cfg, err := s.repo.GetConfigByID(ctx, configID)
	if err != nil {
		log.Warn().Err(err).Int64("config_id", configID).Msg("cache eviction lookup failed")
		return
	}
	s.evict(ctx, cfg.PropertyID, cfg.ExternalHotelCode)
}

func (s *MappingService) evict(ctx context.Context, propertyID int64, hotelCodes ...string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, snapshotKey(propertyID))
	for _, c := range hotelCodes {
		if c != "" {
			_ = s.cache.Del(ctx, hotelKey(c))
		}
	}
}
