package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	dbfs "github.com/b0r1v0j3/workers-united/db"
	"github.com/b0r1v0j3/workers-united/internal/db"
	"github.com/b0r1v0j3/workers-united/internal/jobs"
	"github.com/b0r1v0j3/workers-united/internal/notify"
	"github.com/b0r1v0j3/workers-united/internal/repository/sqlite"
)

var sample = notify.Notification{
	Kind:          notify.KindOfferCreated,
	CandidateID:   7,
	CandidateName: "Marko Petrovic",
	Email:         "marko@example.com",
	Phone:         "+381600000000",
	OfferID:       3,
	JobRequestID:  2,
	JobTitle:      "Welder",
	EmployerName:  "Acme GmbH",
	Country:       "DE",
	ExpiresAt:     time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
}

func TestRender_AllKinds(t *testing.T) {
	for _, k := range notify.Kinds() {
		n := sample
		n.Kind = k
		m, err := notify.Render(n)
		if err != nil {
			t.Fatalf("render %s: %v", k, err)
		}
		if m.Subject == "" || m.Body == "" {
			t.Fatalf("%s: empty subject or body", k)
		}
		if !strings.Contains(m.Body, "Hello Marko,") {
			t.Fatalf("%s: greeting missing in body %q", k, m.Body)
		}
		if m.To != sample.Email || m.Phone != sample.Phone {
			t.Fatalf("%s: contact not copied", k)
		}
	}
}

func TestRender_OfferCreated(t *testing.T) {
	m, err := notify.Render(sample)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if m.Subject != "Job offer: Welder in DE" {
		t.Fatalf("unexpected subject %q", m.Subject)
	}
	if !strings.Contains(m.Body, "02 Mar 2025 09:00 UTC") {
		t.Fatalf("expiry not rendered: %q", m.Body)
	}
}

func TestRender_Errors(t *testing.T) {
	n := sample
	n.Kind = "birthday"
	if _, err := notify.Render(n); err == nil {
		t.Fatalf("expected error for unknown kind")
	}

	n = sample
	n.Email, n.Phone = "", ""
	if _, err := notify.Render(n); err == nil {
		t.Fatalf("expected error without contact")
	}
}

func TestHTTPDispatcher(t *testing.T) {
	var got notify.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := notify.NewHTTPDispatcher(srv.URL, "no-reply@workersunited.eu", time.Second, nil)
	m, _ := notify.Render(sample)
	if err := d.Dispatch(context.Background(), m); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.From != "no-reply@workersunited.eu" || got.To != sample.Email {
		t.Fatalf("unexpected relay payload %+v", got)
	}
}

func TestHTTPDispatcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := notify.NewHTTPDispatcher(srv.URL, "", time.Second, nil)
	err := d.Dispatch(context.Background(), notify.Message{To: "x@example.com"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

type captureDispatcher struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *captureDispatcher) Dispatch(_ context.Context, m notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestQueueNotifier_EndToEnd(t *testing.T) {
	ctx := context.Background()
	d, err := db.New(ctx, filepath.Join(t.TempDir(), "notify.db"), nil)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer d.Close()
	if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := sqlite.New(d, nil)

	n := notify.NewQueueNotifier(repo, 3, nil)
	if err := n.Notify(ctx, sample); err != nil {
		t.Fatalf("notify: %v", err)
	}

	var typ string
	if err := d.QueryRow(ctx, `SELECT type FROM jobs LIMIT 1`).Scan(&typ); err != nil {
		t.Fatalf("read job: %v", err)
	}
	if typ != "notify.offer_created" {
		t.Fatalf("unexpected job type %q", typ)
	}

	capture := &captureDispatcher{}
	pool := jobs.NewWorkerPool(repo, nil, jobs.Options{Workers: 1, PollInterval: 20 * time.Millisecond})
	notify.Register(pool, capture)
	pool.Start(ctx)
	defer pool.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for capture.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if capture.count() != 1 {
		t.Fatalf("expected one dispatched message, got %d", capture.count())
	}
	if capture.msgs[0].Kind != notify.KindOfferCreated {
		t.Fatalf("unexpected kind %q", capture.msgs[0].Kind)
	}
}

func TestNopAndLogDispatcher(t *testing.T) {
	if err := (notify.NopNotifier{}).Notify(context.Background(), sample); err != nil {
		t.Fatalf("nop: %v", err)
	}
	if err := (notify.LogDispatcher{}).Dispatch(context.Background(), notify.Message{Kind: notify.KindOfferExpired}); err != nil {
		t.Fatalf("log dispatcher: %v", err)
	}
}
