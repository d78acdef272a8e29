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

// Package imgverify is the Image Verifier (§4.5): it checks a candidate
// next-layer image against its own header and against persisted
// anti-rollback metadata. Grounded on lz_core.c's lz_core_verify_image.
//
// The optional MonotonicCounter collaborator is this module's one
// SPEC_FULL.md expansion (§4.10): a hardware monotonic counter, the same
// role the teacher's trusted_os/rpmb.go RPMB counter plays for its applet
// firmware, layered alongside (never instead of) the flash-persisted
// version/issue-time check the spec mandates. A nil counter reduces Verify
// to exactly the two-field check spec.md §4.5 describes.
package imgverify

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

// MonotonicCounter is an optional hardware anti-rollback collaborator: a
// counter that can only be read and bumped forward, never reset, backed by
// something sturdier than flash (e.g. an RPMB write counter). When
// supplied, Verify additionally requires header.Version to be no less than
// the counter's current value, and advances the counter after a
// successful verification of a strictly newer image — mirroring
// trusted_os/rpmb.go's expectedVersion/updateVersion/checkVersion trio,
// generalized from that file's single hardcoded applet slot to any image
// kind this module verifies.
type MonotonicCounter interface {
	// Value returns the counter's current value.
	Value() (uint32, error)
	// Advance sets the counter to v, failing if v is less than the
	// current value.
	Advance(v uint32) error
}

// Result carries the outcome of a successful verification: the fields
// needed to refresh persisted metadata and to feed AliasID derivation.
type Result struct {
	Digest    [32]byte
	Version   uint32
	IssueTime uint32
}

// Verify checks image (header followed immediately by code of
// header.Size bytes, both read from region) against persisted metadata
// and codeAuthorityPub, in the order spec.md §4.5 lists. Every check
// failure collapses through the listed lzerr sentinel; ties in version
// and issue_time are both explicitly allowed.
func Verify(region []byte, meta api.ImageMetadata, codeAuthorityPub *ecdsa.PublicKey, counter MonotonicCounter) (Result, error) {
	hdrSize := api.Size(api.ImageHeader{})
	if len(region) < hdrSize {
		return Result{}, fmt.Errorf("%w: image region shorter than header", lzerr.ErrInvalidInput)
	}
	var hdr api.ImageHeader
	if err := api.Unmarshal(region[:hdrSize], &hdr); err != nil {
		return Result{}, fmt.Errorf("%w: unmarshal image header: %v", lzerr.ErrInvalidInput, err)
	}
	c := hdr.Content

	// 1. header magic.
	if c.Magic != lzconst.Magic {
		return Result{}, fmt.Errorf("%w: image header magic mismatch", lzerr.ErrCorrupted)
	}

	// 2. code pointer equals header-base + hdr_size. In this Go
	// realization "header-base" is offset 0 of region and the code
	// pointer is simply region[c.HdrSize:], so this check degrades to
	// bounds-checking HdrSize against the region and declared Size.
	if int(c.HdrSize) != hdrSize {
		return Result{}, fmt.Errorf("%w: image header size field %d does not match actual header size %d", lzerr.ErrCorrupted, c.HdrSize, hdrSize)
	}
	codeStart := int(c.HdrSize)
	codeEnd := codeStart + int(c.Size)
	if codeEnd > len(region) {
		return Result{}, fmt.Errorf("%w: image code extent exceeds region", lzerr.ErrInvalidInput)
	}
	code := region[codeStart:codeEnd]

	// 3. digest.
	digest := lzcrypto.SHA256(code)
	if !bytes.Equal(digest[:], c.Digest[:]) {
		return Result{}, fmt.Errorf("%w: image digest mismatch", lzerr.ErrBadDigest)
	}

	// 4. signature over header content under code-authority key.
	contentBytes, err := api.Marshal(c)
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal image header content: %v", lzerr.ErrInvalidInput, err)
	}
	if err := lzcrypto.Verify(codeAuthorityPub, contentBytes, hdr.Signature.Get()); err != nil {
		return Result{}, fmt.Errorf("%w: image header signature", lzerr.ErrBadSignature)
	}

	// 5. metadata magic valid.
	if meta.Magic != lzconst.Magic {
		return Result{}, fmt.Errorf("%w: image metadata not provisioned", lzerr.ErrNotProvisioned)
	}

	// 6. anti-rollback: version and issue_time both >= persisted metadata;
	// ties allowed.
	if c.Version < meta.LastVersion || c.IssueTime < meta.LastIssueTime {
		return Result{}, fmt.Errorf("%w: image version/issue_time older than persisted metadata", lzerr.ErrRollback)
	}

	// EXPANSION: optional hardware monotonic counter, layered alongside
	// the mandatory check above, never instead of it.
	if counter != nil {
		cur, err := counter.Value()
		if err != nil {
			return Result{}, fmt.Errorf("%w: read monotonic counter: %v", lzerr.ErrFlash, err)
		}
		if c.Version < cur {
			return Result{}, fmt.Errorf("%w: image version older than monotonic counter", lzerr.ErrRollback)
		}
		if c.Version > cur {
			if err := counter.Advance(c.Version); err != nil {
				return Result{}, fmt.Errorf("%w: advance monotonic counter: %v", lzerr.ErrFlash, err)
			}
		}
	}

	trace.Infof("imgverify: image %q version=%d issue_time=%d verified", nulTerminated(c.Name[:]), c.Version, c.IssueTime)
	return Result{Digest: digest, Version: c.Version, IssueTime: c.IssueTime}, nil
}

func nulTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
