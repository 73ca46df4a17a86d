package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Envelope is a memory envelope as submitted by a producing agent. Only "id" is
// required; every other field is carried verbatim. Numbers are kept as
// json.Number so a stored envelope re-serializes to the same bytes.
type Envelope map[string]any

// Well-known envelope keys.
const (
	KeyID         = "id"
	KeyType       = "type"
	KeyTopic      = "topic"
	KeyPayload    = "payload"
	KeyContext    = "context"
	KeyPolicy     = "policy"
	KeyProvenance = "provenance"
	KeyHash       = "hash"
	KeySig        = "sig"
)

// DecodeEnvelope reads a single JSON object from r. Anything but whitespace
// after the object is an error.
func DecodeEnvelope(r io.Reader) (Envelope, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env == nil {
		return nil, errors.New("decode envelope: body is not a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode envelope: unexpected data after JSON object")
	}
	return env, nil
}

// ParseEnvelope decodes a stored envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	return DecodeEnvelope(bytes.NewReader(data))
}

// ID returns the envelope id, or "" when it is absent or not a string.
func (e Envelope) ID() string {
	s, _ := e[KeyID].(string)
	return s
}

// Canonical returns the canonical serialization used for hashing and signing:
// compact JSON with object keys sorted.
func (e Envelope) Canonical() ([]byte, error) {
	return json.Marshal(map[string]any(e))
}

// Provenance returns the provenance block, creating it when create is set and
// it is missing or not an object.
func (e Envelope) Provenance(create bool) map[string]any {
	if p, ok := e[KeyProvenance].(map[string]any); ok {
		return p
	}
	if !create {
		return nil
	}
	p := map[string]any{}
	e[KeyProvenance] = p
	return p
}

// Hash returns provenance.hash.
func (e Envelope) Hash() string {
	s, _ := e.Provenance(false)[KeyHash].(string)
	return s
}

// Sig returns provenance.sig.
func (e Envelope) Sig() string {
	s, _ := e.Provenance(false)[KeySig].(string)
	return s
}

// Clone returns a deep copy.
func (e Envelope) Clone() Envelope {
	if e == nil {
		return nil
	}
	return Envelope(cloneValue(map[string]any(e)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// Grant gives one agent a set of permissions on an envelope.
type Grant struct {
	Agent string   `json:"agent"`
	Perm  []string `json:"perm"`
}

// Allows reports whether the grant carries "read" or "use".
func (g Grant) Allows() bool {
	for _, p := range g.Perm {
		if p == "read" || p == "use" {
			return true
		}
	}
	return false
}

// IndexEntry is the denormalized projection of an envelope used for listing.
// It is the only place ACL and deletion state are evaluated.
type IndexEntry struct {
	ID       string   `json:"id"`
	Topic    string   `json:"topic,omitempty"`
	Type     string   `json:"type,omitempty"`
	Entities []string `json:"entities"`
	TimeRef  *string  `json:"time_ref"`
	Tags     []string `json:"tags"`
	Salience float64  `json:"salience"`
	ACL      []Grant  `json:"acl"`
	Deleted  bool     `json:"deleted"`
}

// Permits reports whether agent holds a read or use grant. Matching is exact
// and case-sensitive.
func (e IndexEntry) Permits(agent string) bool {
	for _, g := range e.ACL {
		if g.Agent == agent && g.Allows() {
			return true
		}
	}
	return false
}

// NewIndexEntry derives the index entry for env. Fields of the wrong shape fall
// back to their empty defaults; the entry always starts out not deleted.
func NewIndexEntry(env Envelope) IndexEntry {
	payload, _ := env[KeyPayload].(map[string]any)
	ctx, _ := env[KeyContext].(map[string]any)
	policy, _ := env[KeyPolicy].(map[string]any)

	entry := IndexEntry{
		ID:       env.ID(),
		Entities: stringList(payload["entities"]),
		Tags:     stringList(ctx["tags"]),
		Salience: number(ctx["salience"]),
		ACL:      grantList(policy["acl"]),
	}
	entry.Topic, _ = env[KeyTopic].(string)
	entry.Type, _ = env[KeyType].(string)
	entry.TimeRef = timeRef(payload["time_ref"])
	return entry
}

// timeRef keeps any truthy time_ref. Values that are not strings are stored
// as their JSON text; empty strings, zero, false and null become nil.
func timeRef(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case bool:
		if !t {
			return nil
		}
		s = "true"
	case json.Number:
		if number(t) == 0 {
			return nil
		}
		s = t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		s = string(data)
	}
	if s == "" {
		return nil
	}
	return &s
}

func stringList(v any) []string {
	out := []string{}
	items, _ := v.([]any)
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func number(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0
		}
		return f
	case float64:
		return n
	default:
		return 0
	}
}

func grantList(v any) []Grant {
	out := []Grant{}
	items, _ := v.([]any)
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		agent, _ := m["agent"].(string)
		out = append(out, Grant{Agent: agent, Perm: stringList(m["perm"])})
	}
	return out
}
