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

package identity_test

import (
	"testing"

	"github.com/syafiq/lazarus/internal/identity"
)

func TestDeriveDeviceIDDeterministic(t *testing.T) {
	cdi := []byte("a compound device identifier..")

	a, err := identity.DeriveDeviceID(cdi)
	if err != nil {
		t.Fatalf("DeriveDeviceID: %v", err)
	}
	b, err := identity.DeriveDeviceID(cdi)
	if err != nil {
		t.Fatalf("DeriveDeviceID: %v", err)
	}
	if !a.Public().Equal(b.Public()) {
		t.Fatalf("DeriveDeviceID not deterministic across calls with the same seed")
	}
}

func TestAliasIDChangesWithDigestOrDeviceID(t *testing.T) {
	deviceA, err := identity.DeriveDeviceID([]byte("device A seed"))
	if err != nil {
		t.Fatalf("DeriveDeviceID: %v", err)
	}
	deviceB, err := identity.DeriveDeviceID([]byte("device B seed"))
	if err != nil {
		t.Fatalf("DeriveDeviceID: %v", err)
	}

	var digest1, digest2 [32]byte
	digest1[0] = 0x01
	digest2[0] = 0x02

	base, err := identity.DeriveAliasID(digest1, deviceA)
	if err != nil {
		t.Fatalf("DeriveAliasID: %v", err)
	}

	sameInputs, err := identity.DeriveAliasID(digest1, deviceA)
	if err != nil {
		t.Fatalf("DeriveAliasID: %v", err)
	}
	if !base.Public().Equal(sameInputs.Public()) {
		t.Fatalf("AliasID is not deterministic for identical (digest, DeviceID) inputs")
	}

	differentDigest, err := identity.DeriveAliasID(digest2, deviceA)
	if err != nil {
		t.Fatalf("DeriveAliasID: %v", err)
	}
	if base.Public().Equal(differentDigest.Public()) {
		t.Fatalf("AliasID did not change when the next-layer digest changed")
	}

	differentDevice, err := identity.DeriveAliasID(digest1, deviceB)
	if err != nil {
		t.Fatalf("DeriveAliasID: %v", err)
	}
	if base.Public().Equal(differentDevice.Public()) {
		t.Fatalf("AliasID did not change when DeviceID changed")
	}
}

func TestDeriveDevAuthDeterministicAndSensitive(t *testing.T) {
	coreAuth := []byte("core-auth-hmac-key-32-bytes-long")
	pubPEM := []byte("-----BEGIN PUBLIC KEY-----\nstand-in\n-----END PUBLIC KEY-----\n")
	var uuid [16]byte
	copy(uuid[:], "0123456789abcdef")

	a := identity.DeriveDevAuth(coreAuth, pubPEM, uuid)
	b := identity.DeriveDevAuth(coreAuth, pubPEM, uuid)
	if a != b {
		t.Fatalf("DeriveDevAuth not deterministic for identical inputs")
	}

	var uuid2 [16]byte
	copy(uuid2[:], "fedcba9876543210")
	c := identity.DeriveDevAuth(coreAuth, pubPEM, uuid2)
	if a == c {
		t.Fatalf("DeriveDevAuth did not change when dev_uuid changed")
	}
}
