package envelope

import (
	"fmt"

	"github.com/nextlevelbuilder/neuroweave/internal/crypto"
	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

// Stamp sets provenance.hash and provenance.sig on env. Caller-supplied values
// for either field are discarded first. The hash covers the canonical envelope
// without hash and sig; the signature covers it with the hash in place.
func Stamp(env store.Envelope, signer crypto.Signer) error {
	prov := env.Provenance(true)
	delete(prov, store.KeyHash)
	delete(prov, store.KeySig)

	body, err := env.Canonical()
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	prov[store.KeyHash] = crypto.Digest(body)

	signed, err := env.Canonical()
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	prov[store.KeySig] = signer.Sign(signed)
	return nil
}

// CheckStamp recomputes the stamp of a stored envelope. env is not modified.
func CheckStamp(env store.Envelope, verifier crypto.Verifier) (hashOK, sigOK bool, err error) {
	c := env.Clone()
	prov := c.Provenance(false)
	if prov == nil {
		return false, false, nil
	}
	hash, _ := prov[store.KeyHash].(string)
	sig, _ := prov[store.KeySig].(string)
	delete(prov, store.KeyHash)
	delete(prov, store.KeySig)

	body, err := c.Canonical()
	if err != nil {
		return false, false, err
	}
	hashOK = hash != "" && crypto.Digest(body) == hash

	prov[store.KeyHash] = hash
	signed, err := c.Canonical()
	if err != nil {
		return false, false, err
	}
	sigOK = verifier.Verify(signed, sig)
	return hashOK, sigOK, nil
}
