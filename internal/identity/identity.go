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

// Package identity is the Identity Deriver (§4.3): DeviceID, re-derived
// from boot_params.cdi_prime on every boot and stable so long as the seed
// is stable (testable property #1); AliasID, re-derived every boot from
// the next layer's measured digest and the DeviceID private key so it
// changes whenever either input changes (testable property #2); and
// dev_auth, an HMAC tag binding the DeviceID public key to dev_uuid.
//
// Grounded on the teacher's witness_applet/trusted_applet/key.go
// deriveIdentityKeys, generalized from its fixed witness/attest/bastion
// trio to this system's DeviceID/AliasID pair, and on lz_core.c's
// lz_core_derive_device_id / lz_core_derive_alias_id_keypair /
// lz_core_derive_dev_auth.
package identity

import (
	"fmt"

	"github.com/syafiq/lazarus/internal/lzcrypto"
)

// DeriveDeviceID derives the long-lived DeviceID keypair from cdiPrime.
// Identical cdiPrime bytes always yield the identical keypair.
func DeriveDeviceID(cdiPrime []byte) (*lzcrypto.Keypair, error) {
	kp, err := lzcrypto.DeriveKeypair(cdiPrime)
	if err != nil {
		return nil, fmt.Errorf("derive DeviceID: %w", err)
	}
	return kp, nil
}

// DeriveAliasID derives the volatile AliasID keypair from the next layer's
// code digest and the DeviceID private key's PEM encoding. Per design note
// (the "AliasID derivation sizeof(digest) bug" open question), the intended
// semantics implemented here use the full SHA-256 digest bytes of the
// concatenation, not a pointer-sized slice of it.
func DeriveAliasID(nextLayerDigest [32]byte, deviceID *lzcrypto.Keypair) (*lzcrypto.Keypair, error) {
	privPEM, err := lzcrypto.PrivToPEM(deviceID)
	if err != nil {
		return nil, fmt.Errorf("derive AliasID: %w", err)
	}
	seed := lzcrypto.SHA256TwoParts(nextLayerDigest[:], privPEM)
	kp, err := lzcrypto.DeriveKeypair(seed[:])
	if err != nil {
		return nil, fmt.Errorf("derive AliasID: %w", err)
	}
	return kp, nil
}

// DeriveDevAuth computes dev_auth = HMAC-SHA-256(core_auth, deviceIDPubPEM ‖ devUUID).
func DeriveDevAuth(coreAuth []byte, deviceIDPubPEM []byte, devUUID [16]byte) [32]byte {
	data := make([]byte, 0, len(deviceIDPubPEM)+len(devUUID))
	data = append(data, deviceIDPubPEM...)
	data = append(data, devUUID[:]...)
	return lzcrypto.HMACSHA256(coreAuth, data)
}
