package envelope

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/neuroweave/internal/crypto"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
	"github.com/nextlevelbuilder/neuroweave/internal/store/file"
	"github.com/nextlevelbuilder/neuroweave/internal/store/sqlite"
)

const retroJSON = `{
  "id": "mem_1",
  "type": "episodic.task.intent",
  "topic": "Retro prep",
  "payload": {"summary": "Prepare retro", "entities": ["Retro"], "time_ref": "Friday"},
  "context": {"channel": "chat", "tags": ["work"], "salience": 0.8},
  "policy": {"owner": "user:alice", "acl": [{"agent": "AgentB.Calendar", "perm": ["read", "use"]}], "ttl": "P30D"},
  "provenance": {"created_at": "2025-08-30T10:00:00Z", "created_by": "AgentA.Chat"},
  "x_extra": {"keep": [1, 2.50, "three"]}
}`

var testBackends = []struct {
	name string
	open func(t *testing.T) *store.Stores
}{
	{"file", openFileStores},
	{"sqlite", func(t *testing.T) *store.Stores {
		t.Helper()
		stores, err := sqlite.NewSQLiteStores(filepath.Join(t.TempDir(), "neuroweave.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStores: %v", err)
		}
		t.Cleanup(func() { stores.Close() })
		return stores
	}},
}

func openFileStores(t *testing.T) *store.Stores {
	t.Helper()
	stores, err := file.NewFileStores(store.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileStores: %v", err)
	}
	return stores
}

func newService(t *testing.T, stores *store.Stores, cfg Config) *Service {
	t.Helper()
	svc, err := New(stores, crypto.NewHMACSigner(""), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

// eachBackend runs fn once per storage backend with a fresh Service.
func eachBackend(t *testing.T, cfg Config, fn func(t *testing.T, svc *Service)) {
	for _, b := range testBackends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newService(t, b.open(t), cfg))
		})
	}
}

func mustEnvelope(t *testing.T, s string) store.Envelope {
	t.Helper()
	env, err := store.ParseEnvelope([]byte(s))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	return env
}

func TestCreate_RoundTrip(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		res, err := svc.Create(ctx, mustEnvelope(t, retroJSON))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if res.ID != "mem_1" || !strings.HasPrefix(res.Sig, "sig:") {
			t.Fatalf("unexpected result %+v", res)
		}

		got, err := svc.List(ctx, "")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d envelopes, want 1", len(got))
		}
		env := got[0]
		if env.Sig() != res.Sig {
			t.Errorf("listed sig %q, create returned %q", env.Sig(), res.Sig)
		}
		extra, _ := env["x_extra"].(map[string]any)
		keep, _ := extra["keep"].([]any)
		if len(keep) != 3 || keep[1].(interface{ String() string }).String() != "2.50" {
			t.Errorf("unknown fields not preserved verbatim: %#v", env["x_extra"])
		}
		prov := env.Provenance(false)
		if prov["created_by"] != "AgentA.Chat" {
			t.Errorf("provenance fields lost: %#v", prov)
		}
	})
}

func TestCreate_Integrity(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
			t.Fatal(err)
		}
		got, err := svc.Get(ctx, "mem_1", "")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}

		c := got.Clone()
		prov := c.Provenance(false)
		hash := prov[store.KeyHash].(string)
		sig := prov[store.KeySig].(string)
		delete(prov, store.KeyHash)
		delete(prov, store.KeySig)
		body, _ := c.Canonical()
		if crypto.Digest(body) != hash {
			t.Error("hash does not match canonical envelope")
		}
		prov[store.KeyHash] = hash
		signed, _ := c.Canonical()
		if !crypto.NewHMACSigner("").Verify(signed, sig) {
			t.Error("sig does not verify")
		}

		check, err := svc.VerifyEnvelope(ctx, "mem_1")
		if err != nil {
			t.Fatalf("VerifyEnvelope: %v", err)
		}
		if !check.HashOK || !check.SigOK {
			t.Errorf("stored envelope failed verification: %+v", check)
		}
	})
}

func TestCreate_DiscardsCallerStamp(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		env := mustEnvelope(t, `{"id":"m","provenance":{"hash":"forged","sig":"sig:00"}}`)
		res, err := svc.Create(ctx, env)
		if err != nil {
			t.Fatal(err)
		}
		if res.Sig == "sig:00" {
			t.Error("caller sig kept")
		}
		got, _ := svc.Get(ctx, "m", "")
		if got.Hash() == "forged" {
			t.Error("caller hash kept")
		}
		if env.Provenance(false)[store.KeyHash] != "forged" {
			t.Error("Create modified the caller's envelope")
		}
	})
}

func TestCreate_CreatesProvenance(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if _, err := svc.Create(ctx, mustEnvelope(t, `{"id":"bare"}`)); err != nil {
			t.Fatal(err)
		}
		got, err := svc.Get(ctx, "bare", "")
		if err != nil {
			t.Fatal(err)
		}
		if got.Hash() == "" || got.Sig() == "" {
			t.Errorf("provenance not stamped: %#v", got)
		}
	})
}

func TestCreate_InvalidID(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		for _, body := range []string{`{}`, `{"id":""}`, `{"id":42}`, `{"id":"../x"}`} {
			_, err := svc.Create(ctx, mustEnvelope(t, body))
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Create(%s) err = %v, want ErrInvalidRequest", body, err)
			}
		}
		all, _ := svc.List(ctx, "")
		if len(all) != 0 {
			t.Errorf("invalid creates left %d envelopes", len(all))
		}
	})
}

func TestList_ACL(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Create(ctx, mustEnvelope(t, `{"id":"mem_0","policy":{"acl":[{"agent":"AgentB.Calendar","perm":["write"]}]}}`)); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Create(ctx, mustEnvelope(t, `{"id":"mem_2","policy":{"acl":[{"agent":"agentb.calendar","perm":["read"]}]}}`)); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			agent string
			want  []string
		}{
			{"", []string{"mem_0", "mem_1", "mem_2"}},
			{"AgentB.Calendar", []string{"mem_1"}},
			{"agentb.calendar", []string{"mem_2"}},
			{"Nobody", nil},
		}
		for _, tt := range tests {
			got, err := svc.List(ctx, tt.agent)
			if err != nil {
				t.Fatalf("List(%q): %v", tt.agent, err)
			}
			if len(got) != len(tt.want) {
				t.Errorf("List(%q) returned %d envelopes, want %d", tt.agent, len(got), len(tt.want))
				continue
			}
			for i, env := range got {
				if env.ID() != tt.want[i] {
					t.Errorf("List(%q)[%d] = %s, want %s", tt.agent, i, env.ID(), tt.want[i])
				}
			}
		}
	})
}

func TestDelete_Monotonic(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()
		svc.now = func() time.Time { return time.Date(2025, 8, 30, 12, 0, 0, 123e6, time.UTC) }

		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
			t.Fatal(err)
		}
		r, err := svc.Delete(ctx, "mem_1")
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if r.MemID != "mem_1" || r.Action != "delete" || r.DeletedAt != "2025-08-30T12:00:00.123Z" {
			t.Errorf("unexpected receipt %+v", r)
		}
		if !svc.ReceiptValid(*r) {
			t.Error("receipt proof does not verify")
		}

		for _, agent := range []string{"", "AgentB.Calendar"} {
			got, _ := svc.List(ctx, agent)
			if len(got) != 0 {
				t.Errorf("deleted envelope still listed for %q", agent)
			}
		}
		if _, err := svc.Get(ctx, "mem_1", ""); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get after delete err = %v, want ErrNotFound", err)
		}

		stored, err := svc.Receipt(ctx, "mem_1")
		if err != nil {
			t.Fatalf("Receipt: %v", err)
		}
		if *stored != *r {
			t.Errorf("stored receipt %+v differs from returned %+v", stored, r)
		}

		// Deleting again re-signs with a fresh timestamp.
		svc.now = func() time.Time { return time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC) }
		r2, err := svc.Delete(ctx, "mem_1")
		if err != nil {
			t.Fatalf("second Delete: %v", err)
		}
		if r2.DeletedAt == r.DeletedAt || r2.Proof == r.Proof {
			t.Error("second delete did not issue a fresh receipt")
		}
		check, err := svc.VerifyReceipt(ctx, "mem_1")
		if err != nil || !check.ProofOK {
			t.Errorf("VerifyReceipt = %+v, %v", check, err)
		}
	})
}

func TestDelete_NotFound(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if _, err := svc.Delete(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Delete err = %v, want ErrNotFound", err)
		}
		if _, err := svc.Receipt(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Receipt err = %v, want ErrNotFound", err)
		}
		if _, err := svc.Get(ctx, "nope", ""); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get err = %v, want ErrNotFound", err)
		}
	})
}

func TestCreate_Resurrect(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Delete(ctx, "mem_1"); err != nil {
			t.Fatal(err)
		}
		res, err := svc.Create(ctx, mustEnvelope(t, retroJSON))
		if err != nil {
			t.Fatalf("re-create: %v", err)
		}
		if !res.Resurrected {
			t.Error("re-create not reported as resurrection")
		}
		got, _ := svc.List(ctx, "AgentB.Calendar")
		if len(got) != 1 {
			t.Errorf("resurrected envelope not listed")
		}
		// The old receipt stays.
		if _, err := svc.Receipt(ctx, "mem_1"); err != nil {
			t.Errorf("receipt lost on resurrection: %v", err)
		}
	})
}

func TestCreate_RejectRecreate(t *testing.T) {
	eachBackend(t, Config{RejectRecreate: true}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
			t.Fatal(err)
		}
		// Overwriting a live id is still allowed.
		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
			t.Fatalf("overwrite live id: %v", err)
		}
		if _, err := svc.Delete(ctx, "mem_1"); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); !errors.Is(err, ErrConflict) {
			t.Errorf("re-create err = %v, want ErrConflict", err)
		}
	})
}

func TestGet_Forbidden(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Get(ctx, "mem_1", "AgentB.Calendar"); err != nil {
			t.Errorf("granted agent: %v", err)
		}
		if _, err := svc.Get(ctx, "mem_1", "AgentC"); !errors.Is(err, ErrForbidden) {
			t.Errorf("ungranted agent err = %v, want ErrForbidden", err)
		}
	})
}

func TestCreate_RefreshesCache(t *testing.T) {
	eachBackend(t, Config{CacheSize: 4}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if _, err := svc.Create(ctx, mustEnvelope(t, `{"id":"c","topic":"one"}`)); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.List(ctx, ""); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Create(ctx, mustEnvelope(t, `{"id":"c","topic":"two"}`)); err != nil {
			t.Fatal(err)
		}
		got, err := svc.Get(ctx, "c", "")
		if err != nil {
			t.Fatal(err)
		}
		if got["topic"] != "two" {
			t.Errorf("stale cached record: topic = %v", got["topic"])
		}

		// Callers may modify what they get back.
		got["topic"] = "mutated"
		again, _ := svc.Get(ctx, "c", "")
		if again["topic"] != "two" {
			t.Error("returned envelope aliases the cache")
		}
	})
}

func TestSubscribe(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		if err := svc.Subscribe(ctx, "", "http://x"); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("empty agentId err = %v, want ErrInvalidRequest", err)
		}
		if err := svc.Subscribe(ctx, "AgentB.Calendar", "http://localhost:5057/revoke"); err != nil {
			t.Fatal(err)
		}
		if err := svc.Subscribe(ctx, "AgentB.Calendar", ""); err != nil {
			t.Fatal(err)
		}
		subs, err := svc.Subscribers(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(subs) != 1 {
			t.Fatalf("got %d subscribers, want 1", len(subs))
		}
		if subs[0].Callback != nil {
			t.Errorf("callback = %q, want null after upsert without callback", *subs[0].Callback)
		}
	})
}

type recordingObserver struct {
	mu       sync.Mutex
	receipts []store.Receipt
}

func (o *recordingObserver) EnvelopeDeleted(_ context.Context, r store.Receipt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.receipts = append(o.receipts, r)
}

func TestDelete_NotifiesObservers(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()
		obs := &recordingObserver{}
		svc.AddObserver(obs)

		if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Delete(ctx, "nope"); err == nil {
			t.Fatal("expected error")
		}
		r, err := svc.Delete(ctx, "mem_1")
		if err != nil {
			t.Fatal(err)
		}
		if len(obs.receipts) != 1 || obs.receipts[0] != *r {
			t.Errorf("observer saw %+v, want only %+v", obs.receipts, r)
		}
	})
}

func TestConcurrentCreateDelete(t *testing.T) {
	eachBackend(t, Config{}, func(t *testing.T, svc *Service) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Create(ctx, mustEnvelope(t, retroJSON)); err != nil {
					t.Errorf("Create: %v", err)
				}
				if _, err := svc.List(ctx, "AgentB.Calendar"); err != nil {
					t.Errorf("List: %v", err)
				}
			}()
		}
		wg.Wait()

		if _, err := svc.Delete(ctx, "mem_1"); err != nil {
			t.Fatal(err)
		}
		got, _ := svc.List(ctx, "")
		if len(got) != 0 {
			t.Errorf("got %d envelopes after delete, want 0", len(got))
		}
	})
}

// slowEnvelopes reads the record for id and then holds the result until
// release is closed. The first read of id signals on entered.
type slowEnvelopes struct {
	store.EnvelopeStore
	id      string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowEnvelopes) GetEnvelope(ctx context.Context, id string) (store.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env, err := s.EnvelopeStore.GetEnvelope(ctx, id)
	if id == s.id {
		first := false
		s.once.Do(func() { first = true })
		if first {
			close(s.entered)
			<-s.release
		}
	}
	return env, err
}

func TestLoad_OverwriteDuringReadIsNotCached(t *testing.T) {
	stores := openFileStores(t)
	slow := &slowEnvelopes{EnvelopeStore: stores.Envelopes, id: "c", entered: make(chan struct{}), release: make(chan struct{})}
	stores.Envelopes = slow
	svc := newService(t, stores, Config{CacheSize: 1})
	ctx := context.Background()

	if _, err := svc.Create(ctx, mustEnvelope(t, `{"id":"c","topic":"one"}`)); err != nil {
		t.Fatal(err)
	}
	// Evicts c from the single-slot cache.
	if _, err := svc.Create(ctx, mustEnvelope(t, `{"id":"a","topic":"a"}`)); err != nil {
		t.Fatal(err)
	}

	listed := make(chan error, 1)
	go func() {
		_, err := svc.List(ctx, "")
		listed <- err
	}()
	<-slow.entered

	res, err := svc.Create(ctx, mustEnvelope(t, `{"id":"c","topic":"two"}`))
	if err != nil {
		t.Fatal(err)
	}
	close(slow.release)
	if err := <-listed; err != nil {
		t.Fatalf("List: %v", err)
	}

	got, err := svc.Get(ctx, "c", "")
	if err != nil {
		t.Fatal(err)
	}
	if got["topic"] != "two" || got.Sig() != res.Sig {
		t.Errorf("Get returned topic=%v sig=%s, want the overwrite (sig %s)", got["topic"], got.Sig(), res.Sig)
	}
	all, _ := svc.List(ctx, "")
	for _, env := range all {
		if env.ID() == "c" && env["topic"] != "two" {
			t.Errorf("List returned stale topic %v", env["topic"])
		}
	}
}

func TestLoad_IgnoresCallerCancellation(t *testing.T) {
	stores := openFileStores(t)
	stores.Envelopes = &slowEnvelopes{EnvelopeStore: stores.Envelopes}
	svc := newService(t, stores, Config{CacheSize: -1})

	if _, err := svc.Create(context.Background(), mustEnvelope(t, `{"id":"c"}`)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Other callers may share this read; one caller going away must not fail it.
	env, err := svc.load(ctx, "c")
	if err != nil {
		t.Fatalf("load with cancelled caller: %v", err)
	}
	if env.ID() != "c" {
		t.Errorf("loaded %v", env.ID())
	}
}
