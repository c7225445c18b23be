package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ota_sync/internal/app"
	"ota_sync/internal/domain"
)

type Handlers struct {
	Mappings   *app.MappingService
	Dispatcher *app.Dispatcher
	Prober     *app.Prober
	Ledger     *app.Ledger
	Receiver   *app.Receiver

	// WebhookSecret, when set, must match the X-Webhook-Token header.
	WebhookSecret string
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1", func(r chi.Router) {
		r.Use(MaxBody(1 << 20))
		r.Put("/properties/{propertyID}/channel", h.upsertConfig)
		r.Get("/properties/{propertyID}/channel", h.getChannel)
		r.Post("/properties/{propertyID}/channel/test", h.testConnection)
		r.Post("/properties/{propertyID}/channel/rates", h.pushRates)
		r.Post("/properties/{propertyID}/channel/inventory", h.pushInventory)
		r.Get("/properties/{propertyID}/channel/logs", h.listLogs)
		r.Put("/channels/{configID}/room-mappings", h.setRoomMappings)
		r.Put("/room-mappings/{roomMappingID}/rate-plans", h.setRatePlans)
	})

	s.mux.With(MaxBody(1<<20)).Post("/reservation", h.reservationWebhook)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		cc *domain.ConcurrencyConflict
	)
	switch {
	case errors.As(err, &ve):
		writeProblem(w, http.StatusBadRequest, "Invalid request", ve.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "resource not found")
	case errors.As(err, &cc):
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusServiceUnavailable, "Busy", cc.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, body
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("body", err.Error())
	}
	return nil
}

/********** DTOs **********/

type configRequest struct {
	HotelCode     string `json:"hotelCode"`
	PMSIdentifier string `json:"pmsIdentifier"`
	APIBaseURL    string `json:"apiBaseUrl"`
	IsSandbox     bool   `json:"isSandbox"`
	IsActive      *bool  `json:"isActive"`
}

type ratePlanView struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Code      string          `json:"code"`
	BaseRate  decimal.Decimal `json:"baseRate"`
	Occupancy int             `json:"occupancy"`
}

type roomView struct {
	ID               int64          `json:"id"`
	InternalRoomType string         `json:"internalRoomType"`
	ExternalRoomCode string         `json:"externalRoomCode"`
	RatePlans        []ratePlanView `json:"ratePlans"`
}

type channelView struct {
	ID            int64      `json:"id"`
	PropertyID    int64      `json:"propertyId"`
	HotelCode     string     `json:"hotelCode"`
	PMSIdentifier string     `json:"pmsIdentifier,omitempty"`
	APIBaseURL    string     `json:"apiBaseUrl,omitempty"`
	IsActive      bool       `json:"isActive"`
	IsSandbox     bool       `json:"isSandbox"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
	Rooms         []roomView `json:"rooms"`
}

func toChannelView(c domain.ChannelConfig, rooms []domain.RoomMapping) channelView {
	v := channelView{
		ID: c.ID, PropertyID: c.PropertyID, HotelCode: c.ExternalHotelCode,
		PMSIdentifier: c.ExternalPMSIdentifier, APIBaseURL: c.APIBaseURL,
		IsActive: c.IsActive, IsSandbox: c.IsSandbox, LastSyncAt: c.LastSyncAt,
		Rooms: make([]roomView, 0, len(rooms)),
	}
	for _, rm := range rooms {
		rv := roomView{ID: rm.ID, InternalRoomType: rm.InternalRoomType, ExternalRoomCode: rm.ExternalRoomCode, RatePlans: []ratePlanView{}}
		for _, p := range rm.RatePlans {
			rv.RatePlans = append(rv.RatePlans, ratePlanView{ID: p.ID, Name: p.Name, Code: p.Code, BaseRate: p.BaseRate, Occupancy: p.Occupancy})
		}
		v.Rooms = append(v.Rooms, rv)
	}
	return v
}

// logEntryView carries payloads as readable text: JSON bodies are embedded
// as-is and anything else as a plain string.
type logEntryView struct {
	ID              int64             `json:"id"`
	PropertyID      *int64            `json:"propertyId,omitempty"`
	ConfigID        *int64            `json:"configId,omitempty"`
	SyncType        domain.SyncType   `json:"syncType"`
	Direction       domain.Direction  `json:"direction"`
	Status          domain.SyncStatus `json:"status"`
	ExternalRef     string            `json:"externalRef,omitempty"`
	RequestPayload  any               `json:"requestPayload,omitempty"`
	ResponsePayload any               `json:"responsePayload,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	NeedsReview     bool              `json:"needsReview"`
	CreatedAt       time.Time         `json:"createdAt"`
}

type logPageView struct {
	Items      []logEntryView `json:"items"`
	NextCursor *int64         `json:"nextCursor,omitempty"`
}

func payloadView(b []byte) any {
	switch {
	case len(b) == 0:
		return nil
	case json.Valid(b):
		return json.RawMessage(b)
	default:
		return string(b)
	}
}

func toLogPageView(p domain.LogPage) logPageView {
	v := logPageView{Items: make([]logEntryView, 0, len(p.Items)), NextCursor: p.NextCursor}
	for _, e := range p.Items {
		v.Items = append(v.Items, logEntryView{
			ID: e.ID, PropertyID: e.PropertyID, ConfigID: e.ConfigID,
			SyncType: e.SyncType, Direction: e.Direction, Status: e.Status, ExternalRef: e.ExternalRef,
			RequestPayload: payloadView(e.RequestPayload), ResponsePayload: payloadView(e.ResponsePayload),
			ErrorMessage: e.ErrorMessage, NeedsReview: e.NeedsReview, CreatedAt: e.CreatedAt,
		})
	}
	return v
}

type roomMappingsRequest struct {
	Rooms []struct {
		InternalRoomType string `json:"internalRoomType"`
		ExternalRoomCode string `json:"externalRoomCode"`
	} `json:"rooms"`
}

type ratePlansRequest struct {
	RatePlans []struct {
		Name      string          `json:"name"`
		Code      string          `json:"code"`
		BaseRate  decimal.Decimal `json:"baseRate"`
		Occupancy int             `json:"occupancy"`
	} `json:"ratePlans"`
}

type ratesRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Rates     []struct {
		RoomMappingID int64           `json:"roomMappingId"`
		Rate          decimal.Decimal `json:"rate"`
		RatePlanCode  string          `json:"ratePlanCode"`
	} `json:"rates"`
}

type inventoryRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Inventory []struct {
		RoomMappingID  int64 `json:"roomMappingId"`
		AvailableCount int   `json:"availableCount"`
	} `json:"inventory"`
}

/********** handlers **********/

func (h *Handlers) upsertConfig(w http.ResponseWriter, r *http.Request) {
	pid, err := idParam(r, "propertyID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req configRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cfg, err := h.Mappings.UpsertConfig(r.Context(), pid, domain.ConfigInput{
		HotelCode: req.HotelCode, PMSIdentifier: req.PMSIdentifier, APIBaseURL: req.APIBaseURL,
		IsSandbox: req.IsSandbox, IsActive: req.IsActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChannelView(cfg, nil))
}

func (h *Handlers) getChannel(w http.ResponseWriter, r *http.Request) {
	pid, err := idParam(r, "propertyID")
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.Mappings.GetMappingsForProperty(r.Context(), pid)
	if err != nil {
		writeError(w, err)
		return
	}

	etag, body := calcETagAndBody(toChannelView(snap.Config, snap.Rooms))
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write getChannel body")
	}
}

func (h *Handlers) setRoomMappings(w http.ResponseWriter, r *http.Request) {
	cid, err := idParam(r, "configID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req roomMappingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	in := make([]domain.RoomMappingInput, 0, len(req.Rooms))
	for _, rm := range req.Rooms {
		in = append(in, domain.RoomMappingInput{InternalRoomType: rm.InternalRoomType, ExternalRoomCode: rm.ExternalRoomCode})
	}
	if err := h.Mappings.SetRoomMappings(r.Context(), cid, in); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) setRatePlans(w http.ResponseWriter, r *http.Request) {
	rid, err := idParam(r, "roomMappingID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req ratePlansRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	in := make([]domain.RatePlanInput, 0, len(req.RatePlans))
	for _, p := range req.RatePlans {
		in = append(in, domain.RatePlanInput{Name: p.Name, Code: p.Code, BaseRate: p.BaseRate, Occupancy: p.Occupancy})
	}
	if err := h.Mappings.SetRatePlans(r.Context(), rid, in); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) testConnection(w http.ResponseWriter, r *http.Request) {
	pid, err := idParam(r, "propertyID")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Prober.TestConnection(r.Context(), pid))
}

// Push endpoints answer 200 whenever the push ran; per-window outcomes are
// in the body.
func (h *Handlers) pushRates(w http.ResponseWriter, r *http.Request) {
	pid, err := idParam(r, "propertyID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req ratesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rng, err := domain.NewDateRange(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}
	updates := make([]domain.RateUpdate, 0, len(req.Rates))
	for _, u := range req.Rates {
		updates = append(updates, domain.RateUpdate{RoomMappingID: u.RoomMappingID, Rate: u.Rate, RatePlanCode: u.RatePlanCode})
	}
	res, err := h.Dispatcher.PushRates(r.Context(), pid, rng, updates)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) pushInventory(w http.ResponseWriter, r *http.Request) {
	pid, err := idParam(r, "propertyID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req inventoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rng, err := domain.NewDateRange(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}
	updates := make([]domain.InventoryUpdate, 0, len(req.Inventory))
	for _, u := range req.Inventory {
		updates = append(updates, domain.InventoryUpdate{RoomMappingID: u.RoomMappingID, AvailableCount: u.AvailableCount})
	}
	res, err := h.Dispatcher.PushInventory(r.Context(), pid, rng, updates)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	pid, err := idParam(r, "propertyID")
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	f := domain.LogFilter{
		SyncType:  domain.SyncType(q.Get("sync_type")),
		Status:    domain.SyncStatus(q.Get("status")),
		Direction: domain.Direction(q.Get("direction")),
	}
	if ls := q.Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		f.Limit = l
	}
	if cs := q.Get("cursor"); cs != "" {
		c, err := strconv.ParseInt(cs, 10, 64)
		if err != nil || c <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid cursor", "cursor must be a positive integer")
			return
		}
		f.Cursor = &c
	}
	page, err := h.Ledger.Query(r.Context(), pid, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogPageView(page))
}
