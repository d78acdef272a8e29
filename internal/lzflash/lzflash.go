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

// Package lzflash is the Flash Region Abstraction (§4.1): every structure
// persisted to flash is read, modified, and rewritten as a whole, never
// mutated in place, so that a torn write during a page program leaves
// either the old or the new structure intact but never a mix of both
// (testable property #9). Geometry mirrors the teacher's
// internal/storage/slots package (Start/Length in blocks of a fixed
// BlockSize), narrowed down to the single linear regions this module
// needs (data store, staging area, per-layer image slots) instead of the
// teacher's multi-slot partition scheme.
package lzflash

import (
	"fmt"

	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/lzconst"
	"github.com/syafiq/lazarus/internal/lzerr"
	"github.com/syafiq/lazarus/internal/trace"
)

// Device is the narrow flash peripheral contract the Flash Region
// Abstraction is built on. Implementations read and write whole
// lzconst.PageSize blocks; partial-block addressing is this package's job,
// not the device's. Production wiring is a real NOR/eMMC driver; tests use
// lzflashtest.MemDev.
type Device interface {
	// BlockSize returns the device's program/erase granularity.
	BlockSize() int
	// NumBlocks returns the total number of addressable blocks.
	NumBlocks() int
	// ReadBlocks reads len(dst)/BlockSize() blocks starting at lba into dst.
	ReadBlocks(lba int, dst []byte) error
	// WriteBlocks writes len(src)/BlockSize() blocks starting at lba from src.
	WriteBlocks(lba int, src []byte) error
}

// Region is a fixed byte range on a Device, addressed in block units,
// dedicated to exactly one structure (the data store, the staging area, or
// one layer's image slot).
type Region struct {
	dev       Device
	startLBA  int
	numBlocks int
}

// NewRegion constructs a Region spanning numBlocks blocks of dev starting at
// startLBA. It fails closed if the region does not fit on the device.
func NewRegion(dev Device, startLBA, numBlocks int) (*Region, error) {
	if startLBA < 0 || numBlocks <= 0 || startLBA+numBlocks > dev.NumBlocks() {
		return nil, fmt.Errorf("%w: region [%d,%d) out of bounds on %d-block device", lzerr.ErrInvalidInput, startLBA, startLBA+numBlocks, dev.NumBlocks())
	}
	return &Region{dev: dev, startLBA: startLBA, numBlocks: numBlocks}, nil
}

// Bytes returns the region's capacity in bytes.
func (r *Region) Bytes() int {
	return r.numBlocks * r.dev.BlockSize()
}

// ReadStruct reads the whole region and unmarshals it into v.
func (r *Region) ReadStruct(v any) error {
	buf := make([]byte, r.Bytes())
	if err := r.dev.ReadBlocks(r.startLBA, buf); err != nil {
		return fmt.Errorf("%w: read region: %v", lzerr.ErrFlash, err)
	}
	size := api.Size(v)
	if size < 0 || size > len(buf) {
		return fmt.Errorf("%w: %T (%d bytes) does not fit region (%d bytes)", lzerr.ErrInvalidInput, v, size, len(buf))
	}
	return api.Unmarshal(buf[:size], v)
}

// WriteStruct marshals v and writes it as a whole over the region,
// zero-padding the remainder. The caller must have already populated every
// field of v it cares about: this call never reads the region first, so a
// partially-populated v silently erases whatever was there before it, by
// design — half of the read-modify-write discipline lives in the caller
// building a complete in-RAM copy before ever calling WriteStruct.
func (r *Region) WriteStruct(v any) error {
	b, err := api.Marshal(v)
	if err != nil {
		return err
	}
	if len(b) > r.Bytes() {
		return fmt.Errorf("%w: %T (%d bytes) does not fit region (%d bytes)", lzerr.ErrInvalidInput, v, len(b), r.Bytes())
	}
	buf := make([]byte, r.Bytes())
	copy(buf, b)
	if err := r.dev.WriteBlocks(r.startLBA, buf); err != nil {
		return fmt.Errorf("%w: write region: %v", lzerr.ErrFlash, err)
	}
	trace.V2f("lzflash: wrote %d bytes to region [lba=%d, blocks=%d]", len(b), r.startLBA, r.numBlocks)
	return nil
}

// WriteRaw writes buf (already sized to exactly r.Bytes()) verbatim over
// the region, for callers installing an opaque image blob (header and code
// together) rather than marshaling a single known struct.
func (r *Region) WriteRaw(buf []byte) error {
	if len(buf) != r.Bytes() {
		return fmt.Errorf("%w: raw write of %d bytes does not match region size %d", lzerr.ErrInvalidInput, len(buf), r.Bytes())
	}
	if err := r.dev.WriteBlocks(r.startLBA, buf); err != nil {
		return fmt.Errorf("%w: write region: %v", lzerr.ErrFlash, err)
	}
	trace.V2f("lzflash: wrote %d raw bytes to region [lba=%d, blocks=%d]", len(buf), r.startLBA, r.numBlocks)
	return nil
}

// ReadRaw reads the whole region as raw bytes, for the staging-area scanner
// and image verifier which interpret flash content at varying offsets
// rather than a single fixed structure.
func (r *Region) ReadRaw() ([]byte, error) {
	buf := make([]byte, r.Bytes())
	if err := r.dev.ReadBlocks(r.startLBA, buf); err != nil {
		return nil, fmt.Errorf("%w: read region: %v", lzerr.ErrFlash, err)
	}
	return buf, nil
}

// Erase overwrites the whole region with lzconst.Erased, the value flash
// reads back as after a page erase. internal/bootsel uses it to wipe the
// staging area during initial-boot housekeeping.
func (r *Region) Erase() error {
	buf := make([]byte, r.Bytes())
	for i := range buf {
		buf[i] = lzconst.Erased
	}
	if err := r.dev.WriteBlocks(r.startLBA, buf); err != nil {
		return fmt.Errorf("%w: erase region: %v", lzerr.ErrFlash, err)
	}
	return nil
}

// blocksFor returns the number of BlockSize blocks needed to hold n bytes.
func blocksFor(n, blockSize int) int {
	return (n + blockSize - 1) / blockSize
}

// BlocksFor exposes blocksFor for callers sizing a Region from a struct's
// marshaled size. (cmd/lzcoreboot sizes its data-store region with its own
// dataStoreSizeBlocks helper instead.)
func BlocksFor(dev Device, numBytes int) int {
	return blocksFor(numBytes, dev.BlockSize())
}
