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

package provision_test

import (
	"testing"

	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/bootmode"
	"github.com/syafiq/lazarus/internal/lzcrypto"
	"github.com/syafiq/lazarus/internal/provision"
)

func baseInput(t *testing.T, mode bootmode.Mode) provision.Input {
	t.Helper()
	aliasID, err := lzcrypto.DeriveKeypair([]byte("provision test alias seed"))
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	in := provision.Input{
		Mode:        mode,
		AliasID:     aliasID,
		ReassocReq:  true,
		FWUpdateReq: true,
	}
	copy(in.DevUUID[:], "0123456789abcdef")
	copy(in.CurNonce[:], "currentnonce1234")
	copy(in.NextNonce[:], "nextnonceabcdefg")
	in.DevAuth = lzcrypto.SHA256([]byte("dev auth"))
	nw := api.NetworkInfo{}
	copy(nw.SSID[:], "test-ssid")
	in.NWData = &nw
	return in
}

func TestBuildAppModeOnlyPopulatesNextNonce(t *testing.T) {
	in := baseInput(t, bootmode.App)
	out, err := provision.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.NextNonce != in.NextNonce {
		t.Fatalf("NextNonce = %x, want %x", out.NextNonce, in.NextNonce)
	}
	var zeroNonce [16]byte
	if out.CurNonce != zeroNonce {
		t.Fatalf("App mode: CurNonce = %x, want zero", out.CurNonce)
	}
	var zeroAuth [32]byte
	if out.DevAuth != zeroAuth {
		t.Fatalf("App mode: DevAuth = %x, want zero", out.DevAuth)
	}
	if out.DevReassociationNecessary || out.FirmwareUpdateNecessary {
		t.Fatalf("App mode: flags = (%v, %v), want both false", out.DevReassociationNecessary, out.FirmwareUpdateNecessary)
	}
	if out.NWData != (api.NetworkInfo{}) {
		t.Fatalf("App mode: NWData = %+v, want zero value", out.NWData)
	}
}

func TestBuildUDownloaderModePopulatesFullSet(t *testing.T) {
	in := baseInput(t, bootmode.UDownloader)
	out, err := provision.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.CurNonce != in.CurNonce {
		t.Fatalf("CurNonce = %x, want %x", out.CurNonce, in.CurNonce)
	}
	if out.NextNonce != in.NextNonce {
		t.Fatalf("NextNonce = %x, want %x", out.NextNonce, in.NextNonce)
	}
	if out.DevAuth != in.DevAuth {
		t.Fatalf("DevAuth = %x, want %x", out.DevAuth, in.DevAuth)
	}
	if !out.DevReassociationNecessary || !out.FirmwareUpdateNecessary {
		t.Fatalf("UDownloader mode: flags = (%v, %v), want both true", out.DevReassociationNecessary, out.FirmwareUpdateNecessary)
	}
	if out.NWData != *in.NWData {
		t.Fatalf("NWData = %+v, want %+v", out.NWData, *in.NWData)
	}
}

func TestBuildCPatcherModeOmitsNextNonceAndNetwork(t *testing.T) {
	in := baseInput(t, bootmode.CPatcher)
	out, err := provision.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.CurNonce != in.CurNonce {
		t.Fatalf("CurNonce = %x, want %x", out.CurNonce, in.CurNonce)
	}
	if out.DevAuth != in.DevAuth {
		t.Fatalf("DevAuth = %x, want %x", out.DevAuth, in.DevAuth)
	}
	var zeroNonce [16]byte
	if out.NextNonce != zeroNonce {
		t.Fatalf("CPatcher mode: NextNonce = %x, want zero (not in the need-to-know table)", out.NextNonce)
	}
	if out.NWData != (api.NetworkInfo{}) {
		t.Fatalf("CPatcher mode: NWData = %+v, want zero value", out.NWData)
	}
	if !out.DevReassociationNecessary || !out.FirmwareUpdateNecessary {
		t.Fatalf("CPatcher mode: flags = (%v, %v), want both true", out.DevReassociationNecessary, out.FirmwareUpdateNecessary)
	}
}

func TestBuildAlwaysPopulatesAliasIDAndDevUUID(t *testing.T) {
	for _, mode := range []bootmode.Mode{bootmode.App, bootmode.UDownloader, bootmode.CPatcher} {
		in := baseInput(t, mode)
		out, err := provision.Build(in)
		if err != nil {
			t.Fatalf("Build(%s): %v", mode, err)
		}
		if out.DevUUID != in.DevUUID {
			t.Fatalf("Build(%s): DevUUID = %x, want %x", mode, out.DevUUID, in.DevUUID)
		}
		if out.AliasIDPubKey.String() == "" {
			t.Fatalf("Build(%s): AliasIDPubKey not populated", mode)
		}
		if out.AliasIDPrivKey.String() == "" {
			t.Fatalf("Build(%s): AliasIDPrivKey not populated", mode)
		}
	}
}
