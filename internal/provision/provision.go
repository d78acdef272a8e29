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

// Package provision is the Next-Layer Provisioner (§4.8): it populates the
// next-layer boot-parameter RAM window according to the need-to-know
// table, leaving every field not applicable to the chosen boot mode at its
// zero value. Grounded on lz_core.c's lz_core_provide_params_ram.
package provision

import (
	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/bootmode"
	"github.com/syafiq/lazarus/internal/lzconst"
	"github.com/syafiq/lazarus/internal/lzcrypto"
)

// Input gathers everything Build needs to populate one next-layer window.
type Input struct {
	Mode       bootmode.Mode
	AliasID    *lzcrypto.Keypair
	DevUUID    [16]byte
	CurNonce   [16]byte
	NextNonce  [16]byte
	DevAuth    [32]byte
	NWData     *api.NetworkInfo // nil if no network info is provisioned
	ReassocReq bool
	FWUpdateReq bool
}

// Build constructs the next-layer boot parameters in a fresh, stack-local
// value per the mandatory ordering in §4.8: the caller must zero the
// core's own boot-parameter window only *after* this call returns and the
// result has been written out, because the two RAM windows overlap on
// real hardware. This function itself never touches the core's window.
func Build(in Input) (api.NextLayerBootParams, error) {
	var out api.NextLayerBootParams
	out.Magic = lzconst.Magic

	aliasPub, err := lzcrypto.PubToPEM(in.AliasID.Public())
	if err != nil {
		return api.NextLayerBootParams{}, err
	}
	aliasPriv, err := lzcrypto.PrivToPEM(in.AliasID)
	if err != nil {
		return api.NextLayerBootParams{}, err
	}
	if err := out.AliasIDPubKey.Set(aliasPub); err != nil {
		return api.NextLayerBootParams{}, err
	}
	if err := out.AliasIDPrivKey.Set(aliasPriv); err != nil {
		return api.NextLayerBootParams{}, err
	}
	out.DevUUID = in.DevUUID

	switch in.Mode {
	case bootmode.App:
		out.NextNonce = in.NextNonce
	case bootmode.UDownloader:
		out.CurNonce = in.CurNonce
		out.DevAuth = in.DevAuth
		out.NextNonce = in.NextNonce
		out.DevReassociationNecessary = in.ReassocReq
		out.FirmwareUpdateNecessary = in.FWUpdateReq
		if in.NWData != nil {
			out.NWData = *in.NWData
		}
	case bootmode.CPatcher:
		out.CurNonce = in.CurNonce
		out.DevAuth = in.DevAuth
		out.DevReassociationNecessary = in.ReassocReq
		out.FirmwareUpdateNecessary = in.FWUpdateReq
	}

	return out, nil
}
