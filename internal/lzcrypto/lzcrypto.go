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

// Package lzcrypto is the narrow crypto facade (§4.2): hashing, HMAC,
// ECDSA sign/verify, deterministic keypair derivation from a seed, and
// PEM encode/decode. Every one of these primitives is explicitly an
// external collaborator per spec.md §1 ("cryptographic primitives ... are
// OUT OF SCOPE"); this package is the thin seam the rest of the boot chain
// calls through for these operations. Other packages still use the
// crypto/ecdsa public-key type, and internal/certstore builds its
// certificates with crypto/x509 directly.
//
// Signature verification fails with a single BadSignature-flavored error;
// callers never get to distinguish why a signature didn't check out.
package lzcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"

	"github.com/syafiq/lazarus/internal/lzerr"
)

// Curve is the NIST curve used for every ECDSA keypair in the system.
var Curve = elliptic.P256()

// Keypair is an ECDSA keypair over Curve.
type Keypair struct {
	Private *ecdsa.PrivateKey
}

// Public returns the public half of the keypair.
func (k *Keypair) Public() *ecdsa.PublicKey {
	return &k.Private.PublicKey
}

// SHA256 hashes data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256TwoParts hashes the concatenation of a and b without requiring the
// caller to allocate a combined buffer, mirroring lz_sha256_two_parts.
func SHA256TwoParts(a, b []byte) [32]byte {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACSHA256 computes an HMAC-SHA-256 tag over data under key.
func HMACSHA256(key, data []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// DeriveKeypair deterministically derives an ECDSA keypair from seed:
// identical seeds yield byte-identical keypairs (testable property #1).
// The seed is stretched through HKDF-SHA-256 (no salt, no info) into 48
// bytes of output, reduced mod (N-1) and shifted into [1, N-1] to get the
// private scalar D, from which the public point is computed directly via
// ScalarBaseMult. This is the same seed-to-reader-to-keypair shape the
// teacher's witness_applet/key.go uses for its hardware-derived keys
// (there with ed25519.NewKeyFromSeed, which is deterministic by
// construction); crypto/ecdsa.GenerateKey is deliberately NOT used here,
// since it starts with randutil.MaybeReadByte, a randomized coin flip that
// consumes zero or one byte from the reader before deriving the scalar.
// Identical seeds would then produce different keys on roughly half of
// all calls, which would break DeviceID stability across boots.
func DeriveKeypair(seed []byte) (*Keypair, error) {
	r := hkdf.New(sha256.New, seed, nil, nil)
	buf := make([]byte, 48)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("derive keypair: %w", err)
	}

	n := Curve.Params().N
	nMinus1 := new(big.Int).Sub(n, big.NewInt(1))
	d := new(big.Int).SetBytes(buf)
	d.Mod(d, nMinus1)
	d.Add(d, big.NewInt(1))

	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = Curve
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = Curve.ScalarBaseMult(d.Bytes())

	return &Keypair{Private: priv}, nil
}

// Sign hashes data with SHA-256 and ECDSA-signs the hash with a random
// nonce drawn from the platform RNG.
func Sign(k *Keypair, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, k.Private, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify hashes data with SHA-256 and ECDSA-verifies sig against pub.
// Every failure mode (bad encoding, bad curve point, signature mismatch)
// collapses to ErrBadSignature, matching the Crypto Facade's contract that
// callers never inspect sub-reasons.
func Verify(pub *ecdsa.PublicKey, data []byte, sig []byte) error {
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return lzerr.ErrBadSignature
	}
	return nil
}

// PubToPEM encodes a public key as a PEM block.
func PubToPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// PrivToPEM encodes a private key as a PEM block.
func PrivToPEM(k *Keypair) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(k.Private)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// PEMToPub decodes a PEM-encoded public key.
func PEMToPub(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("pem decode: no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("parse public key: not an ECDSA key")
	}
	return pub, nil
}

// PEMToPriv decodes a PEM-encoded private key.
func PEMToPriv(pemBytes []byte) (*Keypair, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("pem decode: no PEM block found")
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Keypair{Private: priv}, nil
}

// ComparePublicKeys reports whether a and b are the same public key.
func ComparePublicKeys(a, b *ecdsa.PublicKey) bool {
	return a.Equal(b)
}

// RandReader is the platform RNG source, exposed for callers outside this
// package. Nothing in this module reads it: Sign and internal/certstore
// draw from crypto/rand.Reader directly.
var RandReader io.Reader = rand.Reader
