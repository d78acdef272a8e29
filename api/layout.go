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

// Package api defines the fixed-layout, bit-compatible structures shared
// across the trust boundary: the boot-parameter RAM window written by the
// pre-boot stage and consumed by this module, the persistent data-store and
// staging-area records, and the RAM structures this module hands to the
// next layer. Every structure here is built exclusively from fixed-size
// fields (arrays, fixed-width integers, bool) so that encoding/binary
// produces the same packed, fixed-endian byte layout on every boot,
// matching design note #9's "packed, fixed-endian record" strategy.
package api

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/syafiq/lazarus/internal/lzconst"
)

// Byte-order used for every wire structure in this package. The choice is
// arbitrary but must be applied uniformly by the producer and the consumer
// on each boundary.
var ByteOrder = binary.BigEndian

// Sizes of the fixed byte arrays embedded in the structures below. These
// bound the PEM/cert material the structures can carry; callers that
// overflow them get an explicit error rather than silent truncation.
const (
	MaxPubKeyPEMBytes  = 256
	MaxPrivKeyPEMBytes = 320
	MaxSigBytes        = 72
	SHA256Len          = 32
	CertBagBytes       = 4096
	ImageNameBytes     = 32
	NetworkSSIDBytes   = 32
	NetworkPSKBytes    = 64
)

// ElementType enumerates the kinds of records that can appear in the
// staging area.
type ElementType uint8

const (
	ElemBootTicket ElementType = iota
	ElemDeferralTicket
	ElemCoreUpdate
	ElemUDownloaderUpdate
	ElemCPatcherUpdate
	ElemAppUpdate
	ElemConfigUpdate
	ElemDeviceIDReassocRes
)

func (t ElementType) String() string {
	switch t {
	case ElemBootTicket:
		return "BOOT_TICKET"
	case ElemDeferralTicket:
		return "DEFERRAL_TICKET"
	case ElemCoreUpdate:
		return "LZ_CORE_UPDATE"
	case ElemUDownloaderUpdate:
		return "LZ_UDOWNLOADER_UPDATE"
	case ElemCPatcherUpdate:
		return "LZ_CPATCHER_UPDATE"
	case ElemAppUpdate:
		return "APP_UPDATE"
	case ElemConfigUpdate:
		return "CONFIG_UPDATE"
	case ElemDeviceIDReassocRes:
		return "DEVICE_ID_REASSOC_RES"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Signature is an ECDSA signature with its length carried alongside the raw
// bytes, per the Crypto Facade's contract that signature length travels
// with the signature.
type Signature struct {
	Bytes [MaxSigBytes]byte
	Len   uint16
}

// Set copies sig into the fixed-size buffer, failing if it doesn't fit.
func (s *Signature) Set(sig []byte) error {
	if len(sig) > len(s.Bytes) {
		return fmt.Errorf("signature too large: %d > %d", len(sig), len(s.Bytes))
	}
	*s = Signature{}
	copy(s.Bytes[:], sig)
	s.Len = uint16(len(sig))
	return nil
}

// Get returns the slice of actual signature bytes.
func (s *Signature) Get() []byte {
	return s.Bytes[:s.Len]
}

// PubKeyPEM holds a PEM-encoded public key in a fixed-size, NUL-terminated
// buffer.
type PubKeyPEM [MaxPubKeyPEMBytes]byte

// Set copies pem (including a terminating NUL) into the buffer.
func (p *PubKeyPEM) Set(pem []byte) error {
	return setNulTerminated(p[:], pem)
}

// String returns the PEM text, trimmed at the first NUL.
func (p *PubKeyPEM) String() string {
	return nulTerminatedString(p[:])
}

// PrivKeyPEM holds a PEM-encoded private key in a fixed-size, NUL-terminated
// buffer.
type PrivKeyPEM [MaxPrivKeyPEMBytes]byte

// Set copies pem (including a terminating NUL) into the buffer.
func (p *PrivKeyPEM) Set(pem []byte) error {
	return setNulTerminated(p[:], pem)
}

// String returns the PEM text, trimmed at the first NUL.
func (p *PrivKeyPEM) String() string {
	return nulTerminatedString(p[:])
}

func setNulTerminated(dst []byte, src []byte) error {
	if len(src)+1 > len(dst) {
		return fmt.Errorf("value too large: %d+1 > %d", len(src), len(dst))
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, src)
	return nil
}

func nulTerminatedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// CertTableEntry records the extent of one certificate within a certBag:
// [Start, Start+Size) holds the certificate PEM; its terminating NUL sits
// at Start+Size, outside the recorded extent.
type CertTableEntry struct {
	Start uint32
	Size  uint32
}

// BootParams is the fixed-address RAM structure written by the pre-boot
// stage, field order matching the order the pre-boot stage uses (§6):
// magic, cdi_prime, dev_uuid, core_auth, cur_nonce, next_nonce,
// static_symm, initial_boot.
type BootParams struct {
	Magic       uint32
	_           [4]byte // padding to keep CDIPrime 8-byte aligned
	CDIPrime    [SHA256Len]byte
	DevUUID     [16]byte
	CoreAuth    [SHA256Len]byte
	CurNonce    [16]byte
	NextNonce   [16]byte
	StaticSymm  [SHA256Len]byte
	InitialBoot bool
	_           [7]byte // padding
}

// Valid reports whether the magic sentinel is set, per §4.7's
// boot-params-invalid fatal transition.
func (b *BootParams) Valid() bool {
	return b.Magic == lzconst.Magic
}

// Zero overwrites every byte of b, including the secret fields, with 0.
// Called on every exit path once the fields have been consumed, satisfying
// testable property #7.
func (b *BootParams) Zero() {
	*b = BootParams{}
}

// Marshal encodes v into its fixed-width wire form.
func Marshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, ByteOrder, v); err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes b into v, which must be a pointer to a fixed-layout
// struct as used throughout this package.
func Unmarshal(b []byte, v any) error {
	if err := binary.Read(bytes.NewReader(b), ByteOrder, v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return nil
}

// Size returns the marshaled size in bytes of a value of type v's type.
func Size(v any) int {
	return binary.Size(v)
}
