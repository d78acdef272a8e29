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

// Package lzflashtest provides an in-memory lzflash.Device for tests, built
// the same way the teacher's internal/storage/testonly.MemDev is: a slice
// of fixed-size blocks plus an OnBlockWritten hook a test can use to
// interpose on writes (e.g. to simulate a torn write by truncating or
// corrupting a block mid-WriteBlocks, for testable property #9).
package lzflashtest

import (
	"fmt"
	"testing"

	"github.com/syafiq/lazarus/internal/lzconst"
)

// MemDev is a fixed-block-size, in-memory lzflash.Device.
type MemDev struct {
	t *testing.T

	blockSize int
	storage   [][]byte

	// OnBlockWritten, if set, is invoked once per block after it lands in
	// storage, with the absolute lba of the block just written. Tests can
	// use this to simulate power loss partway through a multi-block write.
	OnBlockWritten func(lba int)
}

// NewMemDev constructs a MemDev of numBlocks blocks of lzconst.PageSize
// bytes each, all initialized to the erased value.
func NewMemDev(t *testing.T, numBlocks int) *MemDev {
	t.Helper()
	storage := make([][]byte, numBlocks)
	for i := range storage {
		b := make([]byte, lzconst.PageSize)
		for j := range b {
			b[j] = lzconst.Erased
		}
		storage[i] = b
	}
	return &MemDev{t: t, blockSize: lzconst.PageSize, storage: storage}
}

// BlockSize implements lzflash.Device.
func (m *MemDev) BlockSize() int { return m.blockSize }

// NumBlocks implements lzflash.Device.
func (m *MemDev) NumBlocks() int { return len(m.storage) }

// ReadBlocks implements lzflash.Device.
func (m *MemDev) ReadBlocks(lba int, dst []byte) error {
	n := len(dst) / m.blockSize
	if len(dst)%m.blockSize != 0 {
		return fmt.Errorf("lzflashtest: read length %d not a multiple of block size %d", len(dst), m.blockSize)
	}
	if lba < 0 || lba+n > len(m.storage) {
		return fmt.Errorf("lzflashtest: read [%d,%d) out of range (%d blocks)", lba, lba+n, len(m.storage))
	}
	for i := 0; i < n; i++ {
		copy(dst[i*m.blockSize:(i+1)*m.blockSize], m.storage[lba+i])
	}
	return nil
}

// WriteBlocks implements lzflash.Device.
func (m *MemDev) WriteBlocks(lba int, src []byte) error {
	n := len(src) / m.blockSize
	if len(src)%m.blockSize != 0 {
		return fmt.Errorf("lzflashtest: write length %d not a multiple of block size %d", len(src), m.blockSize)
	}
	if lba < 0 || lba+n > len(m.storage) {
		return fmt.Errorf("lzflashtest: write [%d,%d) out of range (%d blocks)", lba, lba+n, len(m.storage))
	}
	for i := 0; i < n; i++ {
		block := make([]byte, m.blockSize)
		copy(block, src[i*m.blockSize:(i+1)*m.blockSize])
		m.storage[lba+i] = block
		if m.OnBlockWritten != nil {
			m.OnBlockWritten(lba + i)
		}
	}
	return nil
}

// RawBlock returns a copy of the raw bytes of block lba, for tests that want
// to assert on exact on-flash content (e.g. confirming an erase wrote
// lzconst.Erased, not zero).
func (m *MemDev) RawBlock(lba int) []byte {
	out := make([]byte, m.blockSize)
	copy(out, m.storage[lba])
	return out
}
