package app_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ota_sync/internal/app"
	"ota_sync/internal/domain"
)

// stepAvailability returns 3 rooms for the first two nights and 1 afterwards.
type stepAvailability struct{ from time.Time }

func (s stepAvailability) AvailableRooms(ctx context.Context, propertyID int64, roomType string, night time.Time) (int, error) {
	if night.Before(s.from.AddDate(0, 0, 2)) {
		return 3, nil
	}
	return 1, nil
}

func TestResync_PushesBaseRatesAndAvailabilityRuns(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher(app.DispatcherOptions{MaxDays: 31})
	today := time.Now().UTC().Truncate(24 * time.Hour)
	rs := app.NewResyncService(f.maps, d, stepAvailability{from: today}, 5, 2)

	rep, err := rs.RunAll(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if rep.Properties != 1 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	var rates, inv []call
	for _, c := range f.client.recorded() {
		switch c.Op {
		case "rates":
			rates = append(rates, c)
		case "inventory":
			inv = append(inv, c)
		}
	}
	if len(rates) != 1 {
		t.Fatalf("expected 1 rate call, got %d", len(rates))
	}
	if len(inv) != 2 {
		t.Fatalf("expected 2 inventory runs, got %d", len(inv))
	}

	var p struct {
		Updates []struct {
			StartDate string `json:"startDate"`
			EndDate   string `json:"endDate"`
			Rooms     []struct {
				Available int `json:"available"`
			} `json:"rooms"`
		} `json:"updates"`
	}
	_ = json.Unmarshal(inv[0].Body, &p)
	if p.Updates[0].StartDate != today.Format(domain.DateLayout) || p.Updates[0].Rooms[0].Available != 3 {
		t.Fatalf("unexpected first run: %s", inv[0].Body)
	}
	_ = json.Unmarshal(inv[1].Body, &p)
	if p.Updates[0].EndDate != today.AddDate(0, 0, 4).Format(domain.DateLayout) || p.Updates[0].Rooms[0].Available != 1 {
		t.Fatalf("unexpected second run: %s", inv[1].Body)
	}
}

func TestResync_SkipsInactiveConfigs(t *testing.T) {
	f := newFixture(t)
	_, _ = f.maps.UpsertConfig(context.Background(), 1, domain.ConfigInput{HotelCode: "H1", IsActive: ptr(false)})
	rs := app.NewResyncService(f.maps, f.dispatcher(app.DispatcherOptions{}), stepAvailability{}, 5, 1)

	rep, err := rs.RunAll(context.Background())
	if err != nil || rep.Properties != 0 {
		t.Fatalf("unexpected: %+v %v", rep, err)
	}
	if len(f.client.recorded()) != 0 {
		t.Fatalf("no call expected")
	}
}
