// Copyright 2022 The Armored Witness OS authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package staging is the Staging Scanner/Verifier (§4.4): a linear walk
// over the append-only staging area that stops at the first header whose
// magic doesn't match, authenticating each header it accepts along the
// way. Grounded on lz_core.c's lz_has_staging_elem_type /
// lz_core_verify_staging_elem_hdr / lz_has_valid_staging_element /
// lz_get_num_staging_elems, and on the teacher's table-driven, linear
// scan-until-sentinel style used throughout trusted_os/flash.go.
package staging

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/lzconst"
	"github.com/syafiq/lazarus/internal/lzcrypto"
	"github.com/syafiq/lazarus/internal/lzerr"
	"github.com/syafiq/lazarus/internal/trace"
)

// Element is one decoded staging-area record: its header and raw payload
// bytes, plus the byte offset it was found at (useful for diagnostics).
type Element struct {
	Offset  int
	Header  api.StagingHeader
	Payload []byte
}

// Scan walks raw (the staging area's whole content) from offset 0,
// decoding one header + payload per step, and stops at the first header
// whose magic does not match lzconst.Magic. It performs no authentication;
// callers that need to admit an element must call Verify on it first, per
// the open question that lz_has_staging_elem_type-style lookups must never
// be used alone to admit an element.
func Scan(raw []byte) []Element {
	var elems []Element
	hdrSize := api.Size(api.StagingHeader{})
	offset := 0
	for {
		if offset+hdrSize > len(raw) {
			break
		}
		var hdr api.StagingHeader
		if err := api.Unmarshal(raw[offset:offset+hdrSize], &hdr); err != nil {
			break
		}
		if hdr.Content.Magic != lzconst.Magic {
			break
		}
		payloadStart := offset + hdrSize
		payloadEnd := payloadStart + int(hdr.Content.PayloadSize)
		if hdr.Content.PayloadSize == 0 || payloadEnd > len(raw) {
			break
		}
		payload := raw[payloadStart:payloadEnd]
		elems = append(elems, Element{Offset: offset, Header: hdr, Payload: payload})
		offset = payloadEnd
	}
	trace.V2f("staging: scan found %d structurally-terminated elements", len(elems))
	return elems
}

// Verify authenticates one element's header, in the order specified by
// §4.4: magic, non-zero payload size, digest match, nonce freshness, then
// signature. All five must pass or Verify returns a single error
// (wrapping the specific lzerr sentinel) and the element must be skipped,
// never admitted.
func Verify(e Element, curNonce [16]byte, managementPub *ecdsa.PublicKey) error {
	c := e.Header.Content
	if c.Magic != lzconst.Magic {
		return fmt.Errorf("%w: staging header magic mismatch", lzerr.ErrCorrupted)
	}
	if c.PayloadSize == 0 {
		return fmt.Errorf("%w: zero payload size", lzerr.ErrInvalidInput)
	}
	digest := lzcrypto.SHA256(e.Payload)
	if !bytes.Equal(digest[:], c.Digest[:]) {
		return fmt.Errorf("%w: staging element payload digest mismatch", lzerr.ErrBadDigest)
	}
	if c.Nonce != curNonce {
		return fmt.Errorf("%w: staging element nonce does not match current boot nonce", lzerr.ErrStaleNonce)
	}
	contentBytes, err := api.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: marshal staging header content: %v", lzerr.ErrInvalidInput, err)
	}
	if err := lzcrypto.Verify(managementPub, contentBytes, e.Header.Signature.Get()); err != nil {
		return fmt.Errorf("%w: staging header signature", lzerr.ErrBadSignature)
	}
	return nil
}

// HasElementType reports whether a structurally-scanned (but NOT
// authenticated) element of the given type is present, mirroring
// lz_has_staging_elem_type. Per the open question in spec.md §9, this must
// never by itself be used to admit an element for action; use
// FindValidElement for that.
func HasElementType(elems []Element, t api.ElementType) (Element, bool) {
	for _, e := range elems {
		if e.Header.Content.Type == t {
			return e, true
		}
	}
	return Element{}, false
}

// FindValidElement returns the first element of type t that also passes
// Verify, mirroring lz_has_valid_staging_element. This is the only lookup
// that may be used to admit an element's effect.
func FindValidElement(elems []Element, t api.ElementType, curNonce [16]byte, managementPub *ecdsa.PublicKey) (Element, error) {
	for _, e := range elems {
		if e.Header.Content.Type != t {
			continue
		}
		if err := Verify(e, curNonce, managementPub); err != nil {
			trace.Warnf("staging: element type %s at offset %d failed verification: %v", t, e.Offset, err)
			continue
		}
		return e, nil
	}
	return Element{}, fmt.Errorf("%w: %s", lzerr.ErrNotFound, t)
}

// FindAllValid returns every element of type t that passes Verify, in scan
// order. Used by the Update Applier, which may need to process more than
// one matching element type (standard updates) while the selector only
// ever wants the first valid ticket.
func FindAllValid(elems []Element, t api.ElementType, curNonce [16]byte, managementPub *ecdsa.PublicKey) []Element {
	var out []Element
	for _, e := range elems {
		if e.Header.Content.Type != t {
			continue
		}
		if err := Verify(e, curNonce, managementPub); err != nil {
			trace.Warnf("staging: element type %s at offset %d failed verification: %v", t, e.Offset, err)
			continue
		}
		out = append(out, e)
	}
	return out
}
