//go:build integration || !unit

package integration

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"

	"ota_sync/internal/adapters/channel"
	server "ota_sync/internal/adapters/http_server"
	redisad "ota_sync/internal/adapters/redis"
	"ota_sync/internal/app"
	mysqlrepo "ota_sync/internal/storage/mysql"
)

// ---------- helpers ----------

func mustEnv(t *testing.T, k string) string {
	t.Helper()
	v := os.Getenv(k)
	if v == "" {
		t.Skipf("%s not set; export it (e.g. MIGRATIONS_DIR=$PWD/migrations)", k)
	}
	return v
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := mustEnv(t, "MIGRATIONS_DIR")

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("MIGRATIONS_DIR=%s is not a directory or missing", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

// ---------- fake channel manager ----------

type channelStub struct {
	mu    sync.Mutex
	paths []string
	keys  []string
}

func (c *channelStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	c.mu.Lock()
	c.paths = append(c.paths, r.URL.Path)
	c.keys = append(c.keys, r.Header.Get("Idempotency-Key"))
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true,"message":"accepted"}`))
}

func (c *channelStub) calls() (paths, keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...), append([]string(nil), c.keys...)
}

// ---------- the test ----------

func TestHTTP_EndToEnd_ChannelSync(t *testing.T) {
	mustEnv(t, "MIGRATIONS_DIR")

	// Start isolated MySQL container
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=otasync",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:%s@tcp(127.0.0.1:%s)/%s?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		"root", hostPort, "otasync")

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	if _, err := db.Exec(`INSERT INTO room_types (property_id, name, total_rooms) VALUES (7, 'Deluxe', 5)`); err != nil {
		t.Fatalf("seed room_types: %v", err)
	}

	// redis + channel manager
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	stub := &channelStub{}
	cm := httptest.NewServer(stub)
	t.Cleanup(cm.Close)

	// wire the real stack
	repo := mysqlrepo.New(db)
	client, err := channel.New(channel.Options{
		Live:        channel.Credentials{BaseURL: "http://unused.invalid", APIKey: "k"},
		RPS:         100,
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("channel.New: %v", err)
	}
	mappings := app.NewMappingService(repo, redisad.NewWithClient(rc), time.Minute)
	ledger := app.NewLedger(repo)
	dispatcher := app.NewDispatcher(mappings, client, ledger, app.DispatcherOptions{MaxDays: 10})
	srv := server.New(30 * time.Second)
	srv.MountHandlers(&server.Handlers{
		Mappings:      mappings,
		Dispatcher:    dispatcher,
		Prober:        app.NewProber(mappings, client, ledger, 5*time.Second),
		Ledger:        ledger,
		Receiver:      app.NewReceiver(mappings, repo, ledger, redisad.NewLocker(rc, 5*time.Second), 2*time.Second),
		WebhookSecret: "s3cret",
	})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)

	do := func(method, path, body string, hdr ...string) (int, []byte) {
		t.Helper()
		req, _ := http.NewRequest(method, ts.URL+path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		for i := 0; i+1 < len(hdr); i += 2 {
			req.Header.Set(hdr[i], hdr[i+1])
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		return res.StatusCode, b
	}

	// configure
	code, body := do(http.MethodPut, "/v1/properties/7/channel",
		fmt.Sprintf(`{"hotelCode":"H7","apiBaseUrl":%q}`, cm.URL))
	if code != http.StatusOK {
		t.Fatalf("upsert config: %d %s", code, body)
	}
	var cfg struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(body, &cfg)

	code, body = do(http.MethodPut, fmt.Sprintf("/v1/channels/%d/room-mappings", cfg.ID),
		`{"rooms":[{"internalRoomType":"Deluxe","externalRoomCode":"DLX"}]}`)
	if code != http.StatusNoContent {
		t.Fatalf("room mappings: %d %s", code, body)
	}

	code, body = do(http.MethodGet, "/v1/properties/7/channel", "")
	var view struct {
		Rooms []struct {
			ID int64 `json:"id"`
		} `json:"rooms"`
	}
	if code != http.StatusOK || json.Unmarshal(body, &view) != nil || len(view.Rooms) != 1 {
		t.Fatalf("get channel: %d %s", code, body)
	}
	roomID := view.Rooms[0].ID

	code, body = do(http.MethodPut, fmt.Sprintf("/v1/room-mappings/%d/rate-plans", roomID),
		`{"ratePlans":[{"name":"Best available","code":"BAR","baseRate":"150.00","occupancy":2}]}`)
	if code != http.StatusNoContent {
		t.Fatalf("rate plans: %d %s", code, body)
	}

	// push 15 days of rates: two windows of at most 10 days
	code, body = do(http.MethodPost, "/v1/properties/7/channel/rates", fmt.Sprintf(
		`{"startDate":"2024-06-01","endDate":"2024-06-15","rates":[{"roomMappingId":%d,"rate":"180.00"}]}`, roomID))
	var push struct {
		Success bool `json:"success"`
		Batches int  `json:"batches"`
	}
	if code != http.StatusOK || json.Unmarshal(body, &push) != nil || !push.Success || push.Batches != 2 {
		t.Fatalf("push rates: %d %s", code, body)
	}
	if paths, keys := stub.calls(); len(paths) != 2 || paths[0] != "/rates" || keys[0] == "" || keys[0] == keys[1] {
		t.Fatalf("unexpected channel calls: %v %v", paths, keys)
	}

	// inbound reservation
	book := `{"eventType":"book","reservationId":"R-9","hotelCode":"H7","roomCode":"DLX",
		"guestName":"Ana Lima","checkIn":"2024-06-01","checkOut":"2024-06-03","adults":2,"totalAmount":"300.00"}`
	if code, _ := do(http.MethodPost, "/reservation", book); code != http.StatusUnauthorized {
		t.Fatalf("missing token must be rejected, got %d", code)
	}
	for i, want := range []string{"success", "received"} {
		code, body = do(http.MethodPost, "/reservation", book, "X-Webhook-Token", "s3cret")
		var ack struct {
			Status string `json:"status"`
		}
		if code != http.StatusOK || json.Unmarshal(body, &ack) != nil || ack.Status != want {
			t.Fatalf("delivery %d: %d %s", i, code, body)
		}
	}
	var bookings int
	if err := db.QueryRow(`SELECT COUNT(*) FROM bookings WHERE property_id = 7`).Scan(&bookings); err != nil || bookings != 1 {
		t.Fatalf("expected one booking, got %d (%v)", bookings, err)
	}

	// ledger
	code, body = do(http.MethodGet, "/v1/properties/7/channel/logs?direction=inbound&limit=1", "")
	var page struct {
		Items      []map[string]any `json:"items"`
		NextCursor *int64           `json:"nextCursor"`
	}
	if code != http.StatusOK || json.Unmarshal(body, &page) != nil || len(page.Items) != 1 || page.NextCursor == nil {
		t.Fatalf("logs: %d %s", code, body)
	}
	if req, ok := page.Items[0]["requestPayload"].(map[string]any); !ok || req["reservationId"] != "R-9" {
		t.Fatalf("request payload must be shown as sent: %s", body)
	}
}
