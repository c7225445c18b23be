package channel_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ota_sync/internal/adapters/channel"
	"ota_sync/internal/domain"
)

func newClient(t *testing.T, base string, timeout time.Duration) *channel.Client {
	t.Helper()
	cl, err := channel.New(channel.Options{
		Live:           channel.Credentials{BaseURL: base, APIKey: "live-key"},
		Sandbox:        channel.Credentials{BaseURL: base + "/sandbox", APIKey: "sandbox-key"},
		RPS:            100, // high RPS for tests
		RequestTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return cl
}

func TestClient_PushRates_RetriesThenSuccess(t *testing.T) {
	var hits int32
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if r.Header.Get("Idempotency-Key") != "key-1" {
			t.Errorf("missing idempotency key header")
		}
		switch atomic.AddInt32(&hits, 1) {
		case 1, 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"success":true,"message":"Rates updated"}`))
		}
	}))
	defer ts.Close()

	cl := newClient(t, ts.URL, 2*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ex, err := cl.PushRates(ctx, domain.Endpoint{HotelCode: "H1"}, "key-1", []byte(`{"hotelCode":"H1"}`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ex.Message != "Rates updated" {
		t.Fatalf("unexpected message %q", ex.Message)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 calls due to retries, got %d", hits)
	}
	for _, b := range bodies {
		if b != `{"hotelCode":"H1"}` {
			t.Fatalf("retry changed body: %s", b)
		}
	}
}

func TestClient_RejectionSurfacedVerbatim(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"message":"Room code DLX unknown"}`))
	}))
	defer ts.Close()

	cl := newClient(t, ts.URL, time.Second)
	ex, err := cl.PushInventory(context.Background(), domain.Endpoint{HotelCode: "H1"}, "k", []byte(`{}`))
	var rej *domain.ExternalRejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Message != "Room code DLX unknown" || rej.StatusCode != 422 {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if string(ex.Response) != `{"success":false,"message":"Room code DLX unknown"}` {
		t.Fatalf("raw response not kept: %s", ex.Response)
	}
}

func TestClient_SuccessFalseIsRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid hotel code"}`))
	}))
	defer ts.Close()

	cl := newClient(t, ts.URL, time.Second)
	_, err := cl.TestConnection(context.Background(), domain.Endpoint{HotelCode: "NOPE"})
	var rej *domain.ExternalRejectionError
	if !errors.As(err, &rej) || rej.Error() != "Invalid hotel code" {
		t.Fatalf("expected verbatim rejection, got %v", err)
	}
}

func TestClient_SandboxCredentials(t *testing.T) {
	var gotPath, gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotKey = r.URL.Path, r.Header.Get("X-API-Key")
		_, _ = w.Write([]byte(`{"success":true,"message":"Connected"}`))
	}))
	defer ts.Close()

	cl := newClient(t, ts.URL, time.Second)
	ex, err := cl.TestConnection(context.Background(), domain.Endpoint{HotelCode: "H1", Sandbox: true})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotPath != "/sandbox/connection/test" || gotKey != "sandbox-key" {
		t.Fatalf("sandbox not selected: path=%s key=%s", gotPath, gotKey)
	}
	if string(ex.Request) != `{"hotelCode":"H1"}` {
		t.Fatalf("unexpected probe body %s", ex.Request)
	}
}

func TestClient_TimeoutIsConnectivityError(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	cl, err := channel.New(channel.Options{
		Live:           channel.Credentials{BaseURL: ts.URL, APIKey: "k"},
		RPS:            100,
		RequestTimeout: 50 * time.Millisecond,
		MaxAttempts:    1,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	_, err = cl.PushRates(context.Background(), domain.Endpoint{HotelCode: "H1"}, "k", []byte(`{}`))
	var ce *domain.ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := channel.New(channel.Options{}); err == nil {
		t.Fatalf("expected error without keys")
	}
}
