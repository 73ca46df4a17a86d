package envelope

import (
	"testing"

	"github.com/nextlevelbuilder/neuroweave/internal/crypto"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

func TestStamp_Deterministic(t *testing.T) {
	signer := crypto.NewHMACSigner("")
	a := mustEnvelope(t, `{"id":"x","b":1,"a":{"z":true,"y":null}}`)
	b := mustEnvelope(t, `{"a":{"y":null,"z":true},"b":1,"id":"x"}`)

	if err := Stamp(a, signer); err != nil {
		t.Fatal(err)
	}
	if err := Stamp(b, signer); err != nil {
		t.Fatal(err)
	}
	if a.Hash() != b.Hash() || a.Sig() != b.Sig() {
		t.Error("key order changed the stamp")
	}
	if len(a.Hash()) != 64 {
		t.Errorf("hash %q is not hex sha256", a.Hash())
	}
}

func TestCheckStamp(t *testing.T) {
	signer := crypto.NewHMACSigner("s3cret")
	env := mustEnvelope(t, `{"id":"x","topic":"t","provenance":{"created_by":"a"}}`)
	if err := Stamp(env, signer); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		mutate   func(store.Envelope)
		wantHash bool
		wantSig  bool
	}{
		{"untouched", func(store.Envelope) {}, true, true},
		{"payload edited", func(e store.Envelope) { e["topic"] = "other" }, false, false},
		{"sig replaced", func(e store.Envelope) { e.Provenance(false)[store.KeySig] = "sig:00" }, true, false},
		{"hash replaced", func(e store.Envelope) { e.Provenance(false)[store.KeyHash] = "00" }, false, false},
		{"provenance dropped", func(e store.Envelope) { delete(e, store.KeyProvenance) }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.Clone()
			tt.mutate(c)
			hashOK, sigOK, err := CheckStamp(c, signer)
			if err != nil {
				t.Fatal(err)
			}
			if hashOK != tt.wantHash || sigOK != tt.wantSig {
				t.Errorf("CheckStamp = (%v, %v), want (%v, %v)", hashOK, sigOK, tt.wantHash, tt.wantSig)
			}
		})
	}

	if _, sigOK, _ := CheckStamp(env, crypto.NewHMACSigner("other")); sigOK {
		t.Error("signature verified under the wrong secret")
	}
}
