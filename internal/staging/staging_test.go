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

package staging_test

import (
	"errors"
	"testing"

	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/lzconst"
	"github.com/syafiq/lazarus/internal/lzcrypto"
	"github.com/syafiq/lazarus/internal/lzerr"
	"github.com/syafiq/lazarus/internal/staging"
)

// buildElement constructs a signed staging element and its raw on-flash
// bytes (header followed immediately by payload, as §6 specifies:
// "records packed from offset 0 with no alignment padding").
func buildElement(t *testing.T, mgmt *lzcrypto.Keypair, typ api.ElementType, payload []byte, nonce [16]byte) []byte {
	t.Helper()
	digest := lzcrypto.SHA256(payload)

	var hdr api.StagingHeader
	hdr.Content.Magic = lzconst.Magic
	hdr.Content.Type = typ
	hdr.Content.PayloadSize = uint32(len(payload))
	hdr.Content.Digest = digest
	hdr.Content.Nonce = nonce

	contentBytes, err := api.Marshal(hdr.Content)
	if err != nil {
		t.Fatalf("marshal header content: %v", err)
	}
	sig, err := lzcrypto.Sign(mgmt, contentBytes)
	if err != nil {
		t.Fatalf("sign header content: %v", err)
	}
	if err := hdr.Signature.Set(sig); err != nil {
		t.Fatalf("set signature: %v", err)
	}

	hdrBytes, err := api.Marshal(hdr)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	return append(hdrBytes, payload...)
}

func testNonce(b byte) [16]byte {
	var n [16]byte
	for i := range n {
		n[i] = b
	}
	return n
}

func TestScanStopsAtFirstMagicMismatch(t *testing.T) {
	mgmt, err := lzcrypto.DeriveKeypair([]byte("management key seed"))
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	nonce := testNonce(0x01)

	e1 := buildElement(t, mgmt, api.ElemBootTicket, []byte("ticket payload one"), nonce)
	e2 := buildElement(t, mgmt, api.ElemDeferralTicket, []byte("ticket payload two"), nonce)

	raw := append(append([]byte{}, e1...), e2...)
	raw = append(raw, make([]byte, 256)...) // trailing erased flash (all zero in this fake)

	elems := staging.Scan(raw)
	if len(elems) != 2 {
		t.Fatalf("Scan found %d elements, want 2", len(elems))
	}
	if elems[0].Header.Content.Type != api.ElemBootTicket {
		t.Fatalf("elems[0] type = %v, want BOOT_TICKET", elems[0].Header.Content.Type)
	}
	if elems[1].Header.Content.Type != api.ElemDeferralTicket {
		t.Fatalf("elems[1] type = %v, want DEFERRAL_TICKET", elems[1].Header.Content.Type)
	}
}

func TestVerifyAcceptsWellFormedElement(t *testing.T) {
	mgmt, _ := lzcrypto.DeriveKeypair([]byte("verify accept seed"))
	nonce := testNonce(0x02)
	raw := buildElement(t, mgmt, api.ElemBootTicket, []byte("payload"), nonce)

	elems := staging.Scan(raw)
	if len(elems) != 1 {
		t.Fatalf("Scan found %d elements, want 1", len(elems))
	}
	if err := staging.Verify(elems[0], nonce, mgmt.Public()); err != nil {
		t.Fatalf("Verify of well-formed element: %v", err)
	}
}

func TestVerifyRejectsStaleNonce(t *testing.T) {
	mgmt, _ := lzcrypto.DeriveKeypair([]byte("stale nonce seed"))
	bootNonce := testNonce(0x03)
	staleNonce := testNonce(0x04)
	raw := buildElement(t, mgmt, api.ElemBootTicket, []byte("payload"), staleNonce)

	elems := staging.Scan(raw)
	if len(elems) != 1 {
		t.Fatalf("Scan found %d elements, want 1", len(elems))
	}
	err := staging.Verify(elems[0], bootNonce, mgmt.Public())
	if !errors.Is(err, lzerr.ErrStaleNonce) {
		t.Fatalf("Verify with mismatched nonce: got %v, want ErrStaleNonce", err)
	}
}

func TestVerifyRejectsBadDigest(t *testing.T) {
	mgmt, _ := lzcrypto.DeriveKeypair([]byte("bad digest seed"))
	nonce := testNonce(0x05)
	raw := buildElement(t, mgmt, api.ElemBootTicket, []byte("payload"), nonce)

	elems := staging.Scan(raw)
	elems[0].Payload = []byte("tampered payload!!")

	err := staging.Verify(elems[0], nonce, mgmt.Public())
	if !errors.Is(err, lzerr.ErrBadDigest) {
		t.Fatalf("Verify with tampered payload: got %v, want ErrBadDigest", err)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	mgmt, _ := lzcrypto.DeriveKeypair([]byte("bad signature seed"))
	other, _ := lzcrypto.DeriveKeypair([]byte("different key seed"))
	nonce := testNonce(0x06)
	raw := buildElement(t, mgmt, api.ElemBootTicket, []byte("payload"), nonce)

	elems := staging.Scan(raw)
	err := staging.Verify(elems[0], nonce, other.Public())
	if !errors.Is(err, lzerr.ErrBadSignature) {
		t.Fatalf("Verify under wrong management key: got %v, want ErrBadSignature", err)
	}
}

func TestHasElementTypeDoesNotAuthenticate(t *testing.T) {
	mgmt, _ := lzcrypto.DeriveKeypair([]byte("has element type seed"))
	staleNonce := testNonce(0x07)
	raw := buildElement(t, mgmt, api.ElemBootTicket, []byte("payload"), staleNonce)
	elems := staging.Scan(raw)

	// HasElementType must find the element even though its nonce would
	// fail Verify: it performs no authentication by design (spec.md §9's
	// open question on lz_has_staging_elem_type).
	_, found := staging.HasElementType(elems, api.ElemBootTicket)
	if !found {
		t.Fatalf("HasElementType did not find a structurally present element")
	}

	currentNonce := testNonce(0x08)
	_, err := staging.FindValidElement(elems, api.ElemBootTicket, currentNonce, mgmt.Public())
	if !errors.Is(err, lzerr.ErrNotFound) {
		t.Fatalf("FindValidElement with a stale-nonce element: got %v, want ErrNotFound", err)
	}
}

func TestFindAllValidSkipsInvalidAndKeepsValid(t *testing.T) {
	mgmt, _ := lzcrypto.DeriveKeypair([]byte("find all valid seed"))
	nonce := testNonce(0x09)
	good := buildElement(t, mgmt, api.ElemAppUpdate, []byte("good payload"), nonce)
	bad := buildElement(t, mgmt, api.ElemAppUpdate, []byte("bad payload"), testNonce(0x0a))

	raw := append(append([]byte{}, good...), bad...)
	elems := staging.Scan(raw)
	if len(elems) != 2 {
		t.Fatalf("Scan found %d elements, want 2", len(elems))
	}

	valid := staging.FindAllValid(elems, api.ElemAppUpdate, nonce, mgmt.Public())
	if len(valid) != 1 {
		t.Fatalf("FindAllValid returned %d elements, want 1", len(valid))
	}
	if string(valid[0].Payload) != "good payload" {
		t.Fatalf("FindAllValid returned payload %q, want %q", valid[0].Payload, "good payload")
	}
}
