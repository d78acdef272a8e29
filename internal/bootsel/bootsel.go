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

// Package bootsel is the Boot Mode Selector (§4.7): the top-level state
// machine that ties every other component together, from reading boot
// parameters to handing a chosen mode, provisioned next-layer parameters,
// and a freshly built certificate store back to the caller (cmd/lzcoreboot,
// which performs the actual non-secure jump). Grounded on lz_core.c's
// lz_core_run, and on the teacher's trusted_os/main.go for the overall
// shape of "verify, then load" as the last thing a privileged stage does.
package bootsel

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/bootmode"
	"github.com/syafiq/lazarus/internal/certstore"
	"github.com/syafiq/lazarus/internal/identity"
	"github.com/syafiq/lazarus/internal/imgverify"
	"github.com/syafiq/lazarus/internal/lzconst"
	"github.com/syafiq/lazarus/internal/lzcrypto"
	"github.com/syafiq/lazarus/internal/lzerr"
	"github.com/syafiq/lazarus/internal/lzflash"
	"github.com/syafiq/lazarus/internal/lzhalt"
	"github.com/syafiq/lazarus/internal/provision"
	"github.com/syafiq/lazarus/internal/staging"
	"github.com/syafiq/lazarus/internal/trace"
	"github.com/syafiq/lazarus/internal/update"
	"github.com/syafiq/lazarus/internal/watchdog"
)

// Config wires the Selector to its flash regions and peripherals. Image
// regions are passed uninterpreted (header + code together); DataStore and
// Staging are the two persistent regions this module owns exclusively
// during its run.
type Config struct {
	DataStore   *lzflash.Region
	Staging     *lzflash.Region
	Core        *lzflash.Region
	CPatcher    *lzflash.Region
	UDownloader *lzflash.Region
	App         *lzflash.Region

	Watchdog watchdog.Watchdog
	Halt     lzhalt.Func

	// Counter is the optional hardware anti-rollback collaborator (§4.10
	// expansion); nil is a fully valid configuration.
	Counter imgverify.MonotonicCounter
}

// Outcome is everything the Selector hands back on a successful (or
// recoverable) boot decision.
type Outcome struct {
	Mode            bootmode.Mode
	NextLayerParams api.NextLayerBootParams
	CertStore       api.ImageCertStore
}

// Run executes the full boot-decision procedure against params, which is
// zeroized (testable property #7) before Run returns along any path.
func Run(ctx context.Context, params *api.BootParams, cfg Config) (Outcome, error) {
	defer params.Zero()

	if !params.Valid() {
		lzhalt.Halt(cfg.Halt, "invalid boot parameters")
		return Outcome{}, lzerr.AsFatal(fmt.Errorf("%w: boot parameters magic mismatch", lzerr.ErrInvalidInput))
	}

	deviceID, err := identity.DeriveDeviceID(params.CDIPrime[:])
	if err != nil {
		lzhalt.Halt(cfg.Halt, "DeviceID derivation failed")
		return Outcome{}, lzerr.AsFatal(err)
	}

	ds, err := runHousekeeping(params, cfg)
	if err != nil {
		lzhalt.Halt(cfg.Halt, "housekeeping failed")
		return Outcome{}, lzerr.AsFatal(err)
	}

	identityChanged := certstore.IdentityChanged(ds.TrustAnchors.Info.DevPubKey[:], deviceID)
	if identityChanged {
		if err := issueDeviceIDCert(&ds, deviceID); err != nil {
			lzhalt.Halt(cfg.Halt, "DeviceID CSR issuance failed")
			return Outcome{}, lzerr.AsFatal(err)
		}
		if err := cfg.DataStore.WriteStruct(&ds); err != nil {
			lzhalt.Halt(cfg.Halt, "data store write failed after identity change")
			return Outcome{}, lzerr.AsFatal(err)
		}
	}

	if !provisioningComplete(ds, cfg) {
		trace.Warnf("bootsel: provisioning incomplete, blocking forever")
		lzhalt.Block(ctx, cfg.Halt, "not provisioning complete")
		return Outcome{}, lzerr.ErrNotProvisioned
	}

	managementPub, codeAuthorityPub, err := decodeTrustAnchorKeys(ds)
	if err != nil {
		lzhalt.Halt(cfg.Halt, "trust anchor key decode failed")
		return Outcome{}, lzerr.AsFatal(err)
	}

	raw, err := cfg.Staging.ReadRaw()
	if err != nil {
		lzhalt.Halt(cfg.Halt, "staging area read failed")
		return Outcome{}, lzerr.AsFatal(err)
	}
	elems := staging.Scan(raw)
	plan := update.Classify(elems, params.CurNonce, managementPub)

	if len(plan.Standard) > 0 {
		if err := applyUpdates(&ds, plan, cfg); err != nil {
			lzhalt.Halt(cfg.Halt, "update application failed")
			return Outcome{}, lzerr.AsFatal(err)
		}
		if err := cfg.DataStore.WriteStruct(&ds); err != nil {
			lzhalt.Halt(cfg.Halt, "data store write failed after applying updates")
			return Outcome{}, lzerr.AsFatal(err)
		}
	}

	mode := selectMode(plan)

	fwUpdateNecessary := false
	verifyResult, region, err := verifyMode(mode, ds, cfg, codeAuthorityPub)
	if err != nil {
		if mode == bootmode.App {
			trace.Warnf("bootsel: app image verification failed (%v), falling back to UDOWNLOADER", err)
			mode = bootmode.UDownloader
			fwUpdateNecessary = true
			verifyResult, _, err = verifyMode(mode, ds, cfg, codeAuthorityPub)
		}
		if err != nil {
			lzhalt.Halt(cfg.Halt, fmt.Sprintf("%s image verification failed", mode))
			return Outcome{}, lzerr.AsFatal(err)
		}
	}
	_ = region

	aliasID, err := identity.DeriveAliasID(verifyResult.Digest, deviceID)
	if err != nil {
		lzhalt.Halt(cfg.Halt, "AliasID derivation failed")
		return Outcome{}, lzerr.AsFatal(err)
	}

	deviceIDPubPEM, err := lzcrypto.PubToPEM(deviceID.Public())
	if err != nil {
		lzhalt.Halt(cfg.Halt, "DeviceID PEM encode failed")
		return Outcome{}, lzerr.AsFatal(err)
	}
	devAuth := identity.DeriveDevAuth(params.CoreAuth[:], deviceIDPubPEM, params.DevUUID)

	var nwData *api.NetworkInfo
	if ds.ConfigData.NWInfo.Magic == lzconst.Magic {
		nwData = &ds.ConfigData.NWInfo
	}

	nextParams, err := provision.Build(provision.Input{
		Mode:        mode,
		AliasID:     aliasID,
		DevUUID:     params.DevUUID,
		CurNonce:    params.CurNonce,
		NextNonce:   params.NextNonce,
		DevAuth:     devAuth,
		NWData:      nwData,
		ReassocReq:  identityChanged,
		FWUpdateReq: fwUpdateNecessary,
	})
	if err != nil {
		lzhalt.Halt(cfg.Halt, "next-layer parameter provisioning failed")
		return Outcome{}, lzerr.AsFatal(err)
	}

	certStore, err := certstore.BuildImageCertStore(&ds.TrustAnchors, deviceID, aliasID)
	if err != nil {
		lzhalt.Halt(cfg.Halt, "certificate store assembly failed")
		return Outcome{}, lzerr.AsFatal(err)
	}

	deferralSeconds := lzconst.DefaultWatchdogTimeoutSeconds
	if plan.Deferral != nil {
		var d api.DeferralTicket
		if err := api.Unmarshal(plan.Deferral.Payload, &d); err == nil {
			deferralSeconds = int(d.Seconds)
		}
	}
	if cfg.Watchdog != nil {
		if err := cfg.Watchdog.Init(uint32(deferralSeconds)); err != nil {
			lzhalt.Halt(cfg.Halt, "watchdog arming failed")
			return Outcome{}, lzerr.AsFatal(err)
		}
	}

	trace.Infof("bootsel: handing off to %s", mode)
	return Outcome{Mode: mode, NextLayerParams: nextParams, CertStore: certStore}, nil
}

// runHousekeeping performs the id-derived -> housekeeping-{init,normal}
// transition and returns the data store state to continue from.
func runHousekeeping(params *api.BootParams, cfg Config) (api.DataStore, error) {
	var ds api.DataStore
	if params.InitialBoot {
		ds.ConfigData.StaticSymmInfo = api.StaticSymmInfo{
			Magic:      lzconst.Magic,
			StaticSymm: params.StaticSymm,
			DevUUID:    params.DevUUID,
		}
		ds.ConfigData.ImgInfo = api.ImageInfo{
			CPatcherMeta:    api.ImageMetadata{Magic: lzconst.Magic},
			UDownloaderMeta: api.ImageMetadata{Magic: lzconst.Magic},
			AppMeta:         api.ImageMetadata{Magic: lzconst.Magic},
		}
		if err := cfg.Staging.Erase(); err != nil {
			return ds, fmt.Errorf("erase staging area: %w", err)
		}
		if err := cfg.DataStore.WriteStruct(&ds); err != nil {
			return ds, fmt.Errorf("write initial data store: %w", err)
		}
		trace.Infof("bootsel: initial boot housekeeping complete")
		return ds, nil
	}

	if err := cfg.DataStore.ReadStruct(&ds); err != nil {
		return ds, fmt.Errorf("read data store: %w", err)
	}
	if ds.ConfigData.StaticSymmInfo.Magic == lzconst.Magic && ds.ConfigData.StaticSymmInfo.StaticSymm != ([32]byte{}) {
		ds.ConfigData.StaticSymmInfo.StaticSymm = [32]byte{}
		if err := cfg.DataStore.WriteStruct(&ds); err != nil {
			return ds, fmt.Errorf("wipe static_symm: %w", err)
		}
		trace.V2f("bootsel: wiped static_symm")
	}
	return ds, nil
}

// issueDeviceIDCert performs the csr-issued transition: write the new
// DeviceID public key and append its self-signed certificate to the
// trust anchors' certBag.
func issueDeviceIDCert(ds *api.DataStore, deviceID *lzcrypto.Keypair) error {
	pubPEM, err := lzcrypto.PubToPEM(deviceID.Public())
	if err != nil {
		return err
	}
	if err := ds.TrustAnchors.Info.DevPubKey.Set(pubPEM); err != nil {
		return err
	}
	certPEM, err := certstore.BuildDeviceIDCert(deviceID)
	if err != nil {
		return err
	}
	if err := certstore.AppendDeviceIDCert(&ds.TrustAnchors, certPEM); err != nil {
		return err
	}
	trace.Infof("bootsel: DeviceID identity changed, new certificate issued")
	return nil
}

// provisioningComplete implements §4.7's definition: trust anchors and all
// four layer headers carry the expected magic.
func provisioningComplete(ds api.DataStore, cfg Config) bool {
	if ds.TrustAnchors.Info.Magic != lzconst.Magic {
		return false
	}
	for _, r := range []*lzflash.Region{cfg.Core, cfg.CPatcher, cfg.UDownloader, cfg.App} {
		if r == nil || !headerMagicOK(r) {
			return false
		}
	}
	return true
}

func headerMagicOK(region *lzflash.Region) bool {
	hdrSize := api.Size(api.ImageHeaderContent{})
	raw, err := region.ReadRaw()
	if err != nil || len(raw) < hdrSize {
		return false
	}
	var c api.ImageHeaderContent
	if err := api.Unmarshal(raw[:hdrSize], &c); err != nil {
		return false
	}
	return c.Magic == lzconst.Magic
}

func decodeTrustAnchorKeys(ds api.DataStore) (management, codeAuthority *ecdsa.PublicKey, err error) {
	management, err = lzcrypto.PEMToPub(bytes.TrimRight(ds.TrustAnchors.Info.ManagementPubKey[:], "\x00"))
	if err != nil {
		return nil, nil, fmt.Errorf("decode management public key: %w", err)
	}
	codeAuthority, err = lzcrypto.PEMToPub(bytes.TrimRight(ds.TrustAnchors.Info.CodeAuthPubKey[:], "\x00"))
	if err != nil {
		return nil, nil, fmt.Errorf("decode code-authority public key: %w", err)
	}
	return management, codeAuthority, nil
}

// applyUpdates installs standard updates into their flash regions and
// refreshes the in-memory data store's image metadata and network info
// from what was just installed.
func applyUpdates(ds *api.DataStore, plan update.Plan, cfg Config) error {
	applied, err := update.Apply(plan, update.Regions{
		UDownloader: cfg.UDownloader,
		CPatcher:    cfg.CPatcher,
		App:         cfg.App,
	})
	if err != nil {
		return err
	}
	for _, a := range applied {
		switch a.Target {
		case update.TargetUDownloader:
			meta, err := update.RefreshMetadata(cfg.UDownloader)
			if err != nil {
				return err
			}
			ds.ConfigData.ImgInfo.UDownloaderMeta = meta
		case update.TargetCPatcher:
			meta, err := update.RefreshMetadata(cfg.CPatcher)
			if err != nil {
				return err
			}
			ds.ConfigData.ImgInfo.CPatcherMeta = meta
		case update.TargetApp:
			meta, err := update.RefreshMetadata(cfg.App)
			if err != nil {
				return err
			}
			ds.ConfigData.ImgInfo.AppMeta = meta
		case update.TargetConfig:
			var nw api.NetworkInfo
			if err := api.Unmarshal(a.Payload, &nw); err != nil {
				return fmt.Errorf("decode config update payload: %w", err)
			}
			ds.ConfigData.NWInfo = nw
		case update.TargetDeviceIDReassoc:
			trace.Infof("bootsel: DEVICE_ID_REASSOC_RES staged (%d bytes); reassociation protocol is out of scope", len(a.Payload))
		}
	}
	return nil
}

// selectMode implements the apply-updates/post-hk -> mode-selection
// transitions: core update dominates a boot ticket, which dominates the
// UDOWNLOADER default.
func selectMode(plan update.Plan) bootmode.Mode {
	switch {
	case plan.CoreUpdatePending():
		return bootmode.CPatcher
	case plan.BootTicketValid():
		return bootmode.App
	default:
		return bootmode.UDownloader
	}
}

// verifyMode verifies the image region corresponding to mode.
func verifyMode(mode bootmode.Mode, ds api.DataStore, cfg Config, codeAuthorityPub *ecdsa.PublicKey) (imgverify.Result, *lzflash.Region, error) {
	var region *lzflash.Region
	var meta api.ImageMetadata
	switch mode {
	case bootmode.App:
		region, meta = cfg.App, ds.ConfigData.ImgInfo.AppMeta
	case bootmode.UDownloader:
		region, meta = cfg.UDownloader, ds.ConfigData.ImgInfo.UDownloaderMeta
	case bootmode.CPatcher:
		region, meta = cfg.CPatcher, ds.ConfigData.ImgInfo.CPatcherMeta
	}
	raw, err := region.ReadRaw()
	if err != nil {
		return imgverify.Result{}, region, fmt.Errorf("read %s image region: %w", mode, err)
	}
	res, err := imgverify.Verify(raw, meta, codeAuthorityPub, cfg.Counter)
	if err != nil {
		return imgverify.Result{}, region, fmt.Errorf("%s image: %w", mode, err)
	}
	return res, region, nil
}
