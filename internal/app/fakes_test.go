package app_test

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"ota_sync/internal/domain"
)

// ---- fakes ----

// memStore is an in-memory MappingRepository, SyncLogRepository and BookingStore.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	configs  map[int64]domain.ChannelConfig // by property
	rooms    map[int64][]domain.RoomMapping // by config
	logs     []domain.SyncLogEntry
	bookings map[int64]domain.Booking

	failAppend  bool
	failBooking bool
}

func newMemStore() *memStore {
	return &memStore{
		nextID:   100,
		configs:  map[int64]domain.ChannelConfig{},
		rooms:    map[int64][]domain.RoomMapping{},
		bookings: map[int64]domain.Booking{},
	}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) UpsertConfig(ctx context.Context, propertyID int64, in domain.ConfigInput) (domain.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[propertyID]
	if !ok {
		cfg = domain.ChannelConfig{ID: m.id(), PropertyID: propertyID, IsActive: true}
	}
	cfg.ExternalHotelCode = in.HotelCode
	cfg.ExternalPMSIdentifier = in.PMSIdentifier
	cfg.APIBaseURL = in.APIBaseURL
	cfg.IsSandbox = in.IsSandbox
	if in.IsActive != nil {
		cfg.IsActive = *in.IsActive
	}
	m.configs[propertyID] = cfg
	return cfg, nil
}

// addRoom is a test helper that pins the mapping ID.
func (m *memStore) addRoom(configID, id int64, internal, external string, plans ...domain.RatePlanMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range plans {
		plans[i].RoomMappingID = id
	}
	m.rooms[configID] = append(m.rooms[configID], domain.RoomMapping{
		ID: id, ConfigID: configID, InternalRoomType: internal, ExternalRoomCode: external,
		Position: len(m.rooms[configID]), RatePlans: plans,
	})
}

func (m *memStore) ReplaceRoomMappings(ctx context.Context, configID int64, in []domain.RoomMappingInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RoomMapping, 0, len(in))
	for i, r := range in {
		out = append(out, domain.RoomMapping{ID: m.id(), ConfigID: configID, InternalRoomType: r.InternalRoomType, ExternalRoomCode: r.ExternalRoomCode, Position: i})
	}
	m.rooms[configID] = out
	return nil
}

func (m *memStore) ReplaceRatePlans(ctx context.Context, roomMappingID int64, in []domain.RatePlanInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for cid, rooms := range m.rooms {
		for i := range rooms {
			if rooms[i].ID != roomMappingID {
				continue
			}
			plans := make([]domain.RatePlanMapping, 0, len(in))
			for j, p := range in {
				plans = append(plans, domain.RatePlanMapping{ID: m.id(), RoomMappingID: roomMappingID, Name: p.Name, Code: p.Code, BaseRate: p.BaseRate, Occupancy: p.Occupancy, Position: j})
			}
			m.rooms[cid][i].RatePlans = plans
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) TouchLastSync(ctx context.Context, configID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, c := range m.configs {
		if c.ID == configID {
			c.LastSyncAt = &at
			m.configs[pid] = c
		}
	}
	return nil
}

func (m *memStore) GetConfig(ctx context.Context, propertyID int64) (domain.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[propertyID]
	if !ok {
		return domain.ChannelConfig{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memStore) GetConfigByID(ctx context.Context, configID int64) (domain.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if c.ID == configID {
			return c, nil
		}
	}
	return domain.ChannelConfig{}, domain.ErrNotFound
}

func (m *memStore) GetConfigByHotelCode(ctx context.Context, code string) (domain.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if strings.EqualFold(c.ExternalHotelCode, code) {
			return c, nil
		}
	}
	return domain.ChannelConfig{}, domain.ErrNotFound
}

func (m *memStore) GetRoomMapping(ctx context.Context, id int64) (domain.RoomMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rooms := range m.rooms {
		for _, r := range rooms {
			if r.ID == id {
				return r, nil
			}
		}
	}
	return domain.RoomMapping{}, domain.ErrNotFound
}

func (m *memStore) LoadSnapshot(ctx context.Context, propertyID int64) (domain.MappingSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[propertyID]
	if !ok {
		return domain.MappingSnapshot{}, domain.ErrNotFound
	}
	rooms := make([]domain.RoomMapping, len(m.rooms[c.ID]))
	for i, r := range m.rooms[c.ID] {
		r.RatePlans = append([]domain.RatePlanMapping(nil), r.RatePlans...)
		rooms[i] = r
	}
	return domain.MappingSnapshot{Config: c, Rooms: rooms}, nil
}

func (m *memStore) ListActiveConfigs(ctx context.Context) ([]domain.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChannelConfig
	for _, c := range m.configs {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SyncLogRepository

func (m *memStore) Append(ctx context.Context, e domain.SyncLogEntry) (domain.SyncLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return e, context.DeadlineExceeded
	}
	e.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, e)
	return e, nil
}

func (m *memStore) Query(ctx context.Context, propertyID int64, f domain.LogFilter) (domain.LogPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var page domain.LogPage
	for i := len(m.logs) - 1; i >= 0; i-- {
		e := m.logs[i]
		if e.PropertyID == nil || *e.PropertyID != propertyID {
			continue
		}
		if f.Cursor != nil && e.ID >= *f.Cursor {
			continue
		}
		if (f.SyncType != "" && e.SyncType != f.SyncType) || (f.Status != "" && e.Status != f.Status) || (f.Direction != "" && e.Direction != f.Direction) {
			continue
		}
		if len(page.Items) == f.Limit {
			next := page.Items[len(page.Items)-1].ID
			page.NextCursor = &next
			break
		}
		page.Items = append(page.Items, e)
	}
	return page, nil
}

func (m *memStore) HasStatus(ctx context.Context, configID int64, t domain.SyncType, ref string, status domain.SyncStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.logs {
		if e.ConfigID != nil && *e.ConfigID == configID && e.SyncType == t && e.ExternalRef == ref && e.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) entries() []domain.SyncLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SyncLogEntry(nil), m.logs...)
}

// BookingStore

func (m *memStore) FindByExternalRef(ctx context.Context, propertyID int64, source, ref string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBooking {
		return nil, context.DeadlineExceeded
	}
	for _, b := range m.bookings {
		if b.PropertyID == propertyID && b.Source == source && b.ExternalRef == ref {
			return &b, nil
		}
	}
	return nil, nil
}

func (m *memStore) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.id()
	m.bookings[b.ID] = b
	return b, nil
}

func (m *memStore) Update(ctx context.Context, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return domain.ErrNotFound
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *memStore) Cancel(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = domain.BookingCancelled
	m.bookings[id] = b
	return nil
}

func (m *memStore) FlagForReview(ctx context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.NeedsReview = true
	b.ReviewReason = reason
	m.bookings[id] = b
	return nil
}

func (m *memStore) allBookings() []domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, b)
	}
	return out
}

// fakeClient records outbound calls and answers through respond.
type fakeClient struct {
	mu      sync.Mutex
	calls   []call
	respond func(c call) (domain.Exchange, error)
	onCall  func(c call)
}

type call struct {
	Op   string
	EP   domain.Endpoint
	Key  string
	Body []byte
}

func (f *fakeClient) do(ctx context.Context, c call) (domain.Exchange, error) {
	if f.onCall != nil {
		f.onCall(c)
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.respond != nil {
		ex, err := f.respond(c)
		ex.Request = c.Body
		return ex, err
	}
	return domain.Exchange{Request: c.Body, Response: []byte(`{"success":true,"message":"ok"}`), Message: "ok"}, nil
}

func (f *fakeClient) TestConnection(ctx context.Context, ep domain.Endpoint) (domain.Exchange, error) {
	body, _ := json.Marshal(map[string]string{"hotelCode": ep.HotelCode})
	return f.do(ctx, call{Op: "test", EP: ep, Body: body})
}

func (f *fakeClient) PushRates(ctx context.Context, ep domain.Endpoint, key string, body []byte) (domain.Exchange, error) {
	return f.do(ctx, call{Op: "rates", EP: ep, Key: key, Body: body})
}

func (f *fakeClient) PushInventory(ctx context.Context, ep domain.Endpoint, key string, body []byte) (domain.Exchange, error) {
	return f.do(ctx, call{Op: "inventory", EP: ep, Key: key, Body: body})
}

func (f *fakeClient) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// mapCache stores JSON so reads behave like a real remote cache.
type mapCache struct {
	mu    sync.Mutex
	store map[string][]byte
	dels  []string
}

func (c *mapCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *mapCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *mapCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	c.dels = append(c.dels, key)
	return nil
}

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rng(start, end string) domain.DateRange {
	return domain.DateRange{Start: day(start), End: day(end)}
}

func ptr[T any](v T) *T { return &v }
