// Package envelope is the Core: it stamps and persists memory envelopes,
// serves ACL-filtered reads, and issues signed deletion receipts.
//
// All persisted state lives behind the store.Stores handed to New; the Service
// adds per-id write serialization and a bounded cache of full records.
package envelope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/neuroweave/internal/crypto"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

const defaultCacheSize = 1024

var tracer = otel.Tracer("github.com/nextlevelbuilder/neuroweave/internal/envelope")

// Config tunes the Service.
type Config struct {
	// CacheSize bounds the full-record cache (0 = default, <0 = disabled).
	CacheSize int

	// RejectRecreate makes Create fail with ErrConflict for ids that were
	// deleted. By default a second create silently resurrects the id.
	RejectRecreate bool
}

// DeletionObserver is notified after a delete has been committed. Observers
// must not block; the receipt is already persisted when they run.
type DeletionObserver interface {
	EnvelopeDeleted(ctx context.Context, receipt store.Receipt)
}

// Service implements the envelope operations.
type Service struct {
	stores *store.Stores
	signer crypto.Verifier
	cfg    Config

	cache *lru.Cache[string, store.Envelope] // nil when disabled
	loads singleflight.Group
	locks *keyLock

	// gens counts completed writes per id. A loader only fills the cache when
	// no write finished while it was reading.
	genMu sync.Mutex
	gens  map[string]uint64

	observers []DeletionObserver
	now       func() time.Time
}

// New creates a Service over stores. Stamps and receipt proofs are produced by signer.
func New(stores *store.Stores, signer crypto.Verifier, cfg Config) (*Service, error) {
	if stores == nil || stores.Envelopes == nil || stores.Index == nil || stores.Receipts == nil || stores.Subscribers == nil {
		return nil, errors.New("envelope: incomplete store set")
	}
	if signer == nil {
		return nil, errors.New("envelope: signer is required")
	}

	s := &Service{
		stores: stores,
		signer: signer,
		cfg:    cfg,
		locks:  newKeyLock(),
		gens:   make(map[string]uint64),
		now:    time.Now,
	}

	size := cfg.CacheSize
	if size == 0 {
		size = defaultCacheSize
	}
	if size > 0 {
		cache, err := lru.New[string, store.Envelope](size)
		if err != nil {
			return nil, fmt.Errorf("envelope cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// AddObserver registers o for deletion notifications.
func (s *Service) AddObserver(o DeletionObserver) {
	s.observers = append(s.observers, o)
}

// Backend names the storage backend in use.
func (s *Service) Backend() string { return s.stores.Backend }

// CreateResult acknowledges a create.
type CreateResult struct {
	ID  string `json:"id"`
	Sig string `json:"sig"`

	// Resurrected is set when the id had been deleted before this create.
	Resurrected bool `json:"resurrected,omitempty"`
}

// Create stamps env and persists it. The full record is written first; the
// index entry is written only once that succeeded, and always starts out not
// deleted. env itself is not modified.
func (s *Service) Create(ctx context.Context, env store.Envelope) (_ *CreateResult, err error) {
	ctx, span := tracer.Start(ctx, "envelope.Create")
	defer func() { endSpan(span, err) }()

	id := env.ID()
	if id == "" {
		return nil, fmt.Errorf("%w: MEV must include id", ErrInvalidRequest)
	}
	if err := store.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	span.SetAttributes(attribute.String("envelope.id", id))

	unlock := s.locks.Lock(id)
	defer unlock()

	resurrected := false
	prev, err := s.stores.Index.GetEntry(ctx, id)
	switch {
	case err == nil && prev.Deleted:
		if s.cfg.RejectRecreate {
			return nil, fmt.Errorf("%w: envelope %s was deleted", ErrConflict, id)
		}
		resurrected = true
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("lookup index %s: %w", id, err)
	}

	rec := env.Clone()
	if err := Stamp(rec, s.signer); err != nil {
		return nil, fmt.Errorf("stamp %s: %w", id, err)
	}

	if err := s.stores.Envelopes.PutEnvelope(ctx, rec); err != nil {
		return nil, fmt.Errorf("store envelope %s: %w", id, err)
	}
	s.stored(id, rec)

	if err := s.stores.Index.PutEntry(ctx, store.NewIndexEntry(rec)); err != nil {
		// The record is on disk but invisible: listing and deletion go
		// through the index only. A retried create repairs it.
		slog.Error("envelope stored but index update failed", "id", id, "error", err)
		return nil, fmt.Errorf("index envelope %s: %w", id, err)
	}

	if resurrected {
		slog.Warn("envelope resurrected after delete", "id", id)
	}
	slog.Info("envelope created", "id", id, "type", rec["type"], "agent", store.AgentIDFromContext(ctx))

	return &CreateResult{ID: id, Sig: rec.Sig(), Resurrected: resurrected}, nil
}

// List returns the full records of all live envelopes, ordered by id. When
// agent is non-empty only envelopes granting it read or use are returned;
// everything else is silently omitted.
func (s *Service) List(ctx context.Context, agent string) (_ []store.Envelope, err error) {
	ctx, span := tracer.Start(ctx, "envelope.List", trace.WithAttributes(attribute.String("envelope.agent", agent)))
	defer func() { endSpan(span, err) }()

	entries, err := s.stores.Index.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}

	out := make([]store.Envelope, 0, len(entries))
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		if agent != "" && !e.Permits(agent) {
			continue
		}
		env, err := s.load(ctx, e.ID)
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("index entry without record", "id", e.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	span.SetAttributes(attribute.Int("envelope.count", len(out)))
	return out, nil
}

// Get returns one live envelope. Unlike List it tells an unknown or deleted id
// (store.ErrNotFound) apart from a missing grant (ErrForbidden).
func (s *Service) Get(ctx context.Context, id, agent string) (_ store.Envelope, err error) {
	ctx, span := tracer.Start(ctx, "envelope.Get", trace.WithAttributes(attribute.String("envelope.id", id)))
	defer func() { endSpan(span, err) }()

	entry, err := s.stores.Index.GetEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("envelope %s: %w", id, err)
	}
	if entry.Deleted {
		return nil, fmt.Errorf("envelope %s: %w", id, store.ErrNotFound)
	}
	if agent != "" && !entry.Permits(agent) {
		return nil, fmt.Errorf("%w: agent %s has no read grant on %s", ErrForbidden, agent, id)
	}
	return s.load(ctx, id)
}

// load fetches a full record through the cache. Concurrent misses for the same
// id share one backend read, which is detached from the first caller's
// cancellation. The returned envelope is the caller's to modify.
func (s *Service) load(ctx context.Context, id string) (store.Envelope, error) {
	if s.cache != nil {
		if env, ok := s.cache.Get(id); ok {
			return env.Clone(), nil
		}
	}
	v, err, _ := s.loads.Do(id, func() (any, error) {
		gen := s.generation(id)
		env, err := s.stores.Envelopes.GetEnvelope(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		s.fill(id, gen, env)
		return env, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load envelope %s: %w", id, err)
	}
	return v.(store.Envelope).Clone(), nil
}

func (s *Service) generation(id string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[id]
}

// stored records a completed write of rec. Loads that started earlier no
// longer populate the cache, and later misses start a fresh backend read.
func (s *Service) stored(id string, rec store.Envelope) {
	s.genMu.Lock()
	s.gens[id]++
	if s.cache != nil {
		s.cache.Add(id, rec)
	}
	s.genMu.Unlock()
	s.loads.Forget(id)
}

// fill caches env unless id was written since gen was read.
func (s *Service) fill(id string, gen uint64, env store.Envelope) {
	if s.cache == nil {
		return
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[id] == gen {
		s.cache.Add(id, env)
	}
}

// Delete marks id deleted and issues a freshly signed receipt, replacing any
// earlier one. Deleting an already deleted id succeeds again.
func (s *Service) Delete(ctx context.Context, id string) (_ *store.Receipt, err error) {
	ctx, span := tracer.Start(ctx, "envelope.Delete", trace.WithAttributes(attribute.String("envelope.id", id)))
	defer func() { endSpan(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.stores.Index.SetDeleted(ctx, id, true); err != nil {
		return nil, fmt.Errorf("delete %s: %w", id, err)
	}

	r := store.Receipt{
		MemID:     id,
		Action:    store.ActionDelete,
		DeletedAt: store.Timestamp(s.now()),
	}
	body, err := r.Body()
	if err != nil {
		return nil, fmt.Errorf("receipt body: %w", err)
	}
	r.Proof = s.signer.Sign(body)

	if err := s.stores.Receipts.PutReceipt(ctx, r); err != nil {
		// Deleted without a receipt; deleting again writes one.
		slog.Error("envelope deleted but receipt write failed", "id", id, "error", err)
		return nil, fmt.Errorf("store receipt %s: %w", id, err)
	}

	slog.Info("envelope deleted", "id", id, "deleted_at", r.DeletedAt, "agent", store.AgentIDFromContext(ctx))

	for _, o := range s.observers {
		o.EnvelopeDeleted(ctx, r)
	}
	return &r, nil
}

// Receipt returns the stored deletion receipt for id. Receipts are not access
// controlled.
func (s *Service) Receipt(ctx context.Context, id string) (*store.Receipt, error) {
	r, err := s.stores.Receipts.GetReceipt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", id, err)
	}
	return r, nil
}

// Subscribe registers agentID or replaces its callback. An empty callback is
// stored as null.
func (s *Service) Subscribe(ctx context.Context, agentID, callback string) error {
	if agentID == "" {
		return fmt.Errorf("%w: agentId required", ErrInvalidRequest)
	}
	if len(agentID) > store.MaxIDLength {
		return fmt.Errorf("%w: agentId longer than %d", ErrInvalidRequest, store.MaxIDLength)
	}

	sub := store.Subscriber{AgentID: agentID}
	if callback != "" {
		sub.Callback = &callback
	}
	if err := s.stores.Subscribers.UpsertSubscriber(ctx, sub); err != nil {
		return fmt.Errorf("subscribe %s: %w", agentID, err)
	}
	slog.Info("subscriber registered", "agent", agentID, "has_callback", callback != "")
	return nil
}

// Subscribers returns the registry.
func (s *Service) Subscribers(ctx context.Context) ([]store.Subscriber, error) {
	return s.stores.Subscribers.ListSubscribers(ctx)
}

// EnvelopeCheck reports whether a stored envelope still matches its stamp.
type EnvelopeCheck struct {
	ID     string `json:"id"`
	HashOK bool   `json:"hash_ok"`
	SigOK  bool   `json:"sig_ok"`
}

// VerifyEnvelope recomputes the stamp of the stored record for id. Deleted
// envelopes are still checked; their records are kept.
func (s *Service) VerifyEnvelope(ctx context.Context, id string) (*EnvelopeCheck, error) {
	env, err := s.stores.Envelopes.GetEnvelope(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("envelope %s: %w", id, err)
	}
	hashOK, sigOK, err := CheckStamp(env, s.signer)
	if err != nil {
		return nil, fmt.Errorf("check stamp %s: %w", id, err)
	}
	return &EnvelopeCheck{ID: id, HashOK: hashOK, SigOK: sigOK}, nil
}

// ReceiptCheck reports whether a stored receipt's proof matches its body.
type ReceiptCheck struct {
	MemID   string `json:"mem_id"`
	ProofOK bool   `json:"proof_ok"`
}

// VerifyReceipt checks the proof of the stored receipt for id.
func (s *Service) VerifyReceipt(ctx context.Context, id string) (*ReceiptCheck, error) {
	r, err := s.Receipt(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReceiptCheck{MemID: r.MemID, ProofOK: s.ReceiptValid(*r)}, nil
}

// ReceiptValid reports whether r.Proof is the signature of r's body.
func (s *Service) ReceiptValid(r store.Receipt) bool {
	body, err := r.Body()
	if err != nil {
		return false
	}
	return s.signer.Verify(body, r.Proof)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
