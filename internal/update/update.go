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

// Package update is the Update Applier (§4.6): it classifies a scanned,
// verified staging log into standard updates, a core update, and tickets,
// installs standard updates into their target flash regions, and reports
// which boot mode the presence of a core update or boot ticket forces.
// Grounded on lz_core.c's lz_std_updates_pending / lz_core_apply_updates /
// lz_core_get_boot_mode.
package update

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/lzerr"
	"github.com/syafiq/lazarus/internal/lzflash"
	"github.com/syafiq/lazarus/internal/staging"
	"github.com/syafiq/lazarus/internal/trace"
)

// Target names the flash region a standard update installs into.
type Target int

const (
	TargetUDownloader Target = iota
	TargetCPatcher
	TargetApp
	TargetConfig
	TargetDeviceIDReassoc
)

// standardTypes lists the element types that install into a target region,
// in the order lz_core_apply_updates processes them.
var standardTypes = []struct {
	elemType api.ElementType
	target   Target
}{
	{api.ElemUDownloaderUpdate, TargetUDownloader},
	{api.ElemCPatcherUpdate, TargetCPatcher},
	{api.ElemAppUpdate, TargetApp},
	{api.ElemConfigUpdate, TargetConfig},
	{api.ElemDeviceIDReassocRes, TargetDeviceIDReassoc},
}

// Regions groups the flash regions a standard update may be installed
// into. A nil entry means that target is not wired up (e.g. a unit test
// exercising only one kind of update). Apply fails closed for an update
// destined for a nil UDownloader, CPatcher or App region; a config update
// with a nil Config region is reported as applied without being written.
type Regions struct {
	UDownloader *lzflash.Region
	CPatcher    *lzflash.Region
	App         *lzflash.Region
	Config      *lzflash.Region
	// DeviceIDReassoc has no flash region of its own in this module's
	// scope (the reassociation protocol itself is out of scope per
	// spec.md §1); Applied entries of this type are reported so a caller
	// layered on top (outside this module) can act on them, but nothing
	// here writes them to flash.
}

// Applied records one standard update this call installed.
type Applied struct {
	Target  Target
	Payload []byte
}

// Plan is the classification of one scan of the staging area, computed by
// Classify.
type Plan struct {
	Standard     []staging.Element
	CoreUpdate   *staging.Element
	BootTicket   *staging.Element
	Deferral     *staging.Element
}

// Classify partitions elems (already structurally scanned, not yet
// individually verified) into standard updates, a core update, and
// tickets, verifying each as it goes so everything in Plan is
// authenticated. Elements that fail verification are skipped (logged),
// never admitted, per §7's "staging element verification failure →
// element skipped; scan continues".
func Classify(elems []staging.Element, curNonce [16]byte, managementPub *ecdsa.PublicKey) Plan {
	var plan Plan
	for _, s := range standardTypes {
		plan.Standard = append(plan.Standard, staging.FindAllValid(elems, s.elemType, curNonce, managementPub)...)
	}
	if e, err := staging.FindValidElement(elems, api.ElemCoreUpdate, curNonce, managementPub); err == nil {
		plan.CoreUpdate = &e
	}
	if e, err := staging.FindValidElement(elems, api.ElemBootTicket, curNonce, managementPub); err == nil {
		plan.BootTicket = &e
	}
	if e, err := staging.FindValidElement(elems, api.ElemDeferralTicket, curNonce, managementPub); err == nil {
		plan.Deferral = &e
	}
	return plan
}

// targetFor maps an element type to its standard update Target.
func targetFor(t api.ElementType) (Target, bool) {
	for _, s := range standardTypes {
		if s.elemType == t {
			return s.target, true
		}
	}
	return 0, false
}

// Apply installs every standard update in plan into its target region via
// a full-structure write (lzflash's read-modify-write-whole-structure
// discipline), and returns the list of applied updates for the caller to
// refresh image metadata from. Per §7, a per-update application failure is
// fatal for that boot: the first failure aborts and is returned wrapped in
// lzerr.Fatal-worthy context, leaving it to the caller (internal/bootsel)
// to decide whether to wrap it as fatal.
func Apply(plan Plan, regions Regions) ([]Applied, error) {
	var applied []Applied
	for _, e := range plan.Standard {
		target, ok := targetFor(e.Header.Content.Type)
		if !ok {
			continue
		}
		region := regionFor(regions, target)
		if region == nil {
			// Config and device-ID-reassociation updates have no flash
			// region of their own in this module's scope: config lives
			// inside the data store (internal/bootsel applies it there),
			// and the reassociation protocol is out of scope per
			// spec.md §1. Both are reported unwritten for the caller to
			// act on.
			if target == TargetDeviceIDReassoc || target == TargetConfig {
				applied = append(applied, Applied{Target: target, Payload: e.Payload})
				continue
			}
			return applied, fmt.Errorf("%w: no flash region wired for update target %d", lzerr.ErrInvalidInput, target)
		}
		if err := writeRaw(region, e.Payload); err != nil {
			return applied, fmt.Errorf("apply update to target %d: %w", target, err)
		}
		trace.Infof("update: applied staging element type %s to target %d (%d bytes)", e.Header.Content.Type, target, len(e.Payload))
		applied = append(applied, Applied{Target: target, Payload: e.Payload})
	}
	return applied, nil
}

func regionFor(r Regions, t Target) *lzflash.Region {
	switch t {
	case TargetUDownloader:
		return r.UDownloader
	case TargetCPatcher:
		return r.CPatcher
	case TargetApp:
		return r.App
	case TargetConfig:
		return r.Config
	default:
		return nil
	}
}

// writeRaw writes payload as the whole content of region, zero-padding the
// remainder, bypassing the struct marshaling path (the payload is already
// a raw image-region byte blob, header included).
func writeRaw(region *lzflash.Region, payload []byte) error {
	if len(payload) > region.Bytes() {
		return fmt.Errorf("%w: payload %d bytes exceeds region capacity %d bytes", lzerr.ErrInvalidInput, len(payload), region.Bytes())
	}
	buf := make([]byte, region.Bytes())
	copy(buf, payload)
	return region.WriteRaw(buf)
}

// RefreshMetadata derives a fresh ImageMetadata for a target region after
// an update was applied to it, from the region's own header, so the next
// boot's anti-rollback check compares against the image that now actually
// occupies the region.
func RefreshMetadata(region *lzflash.Region) (api.ImageMetadata, error) {
	var hdr api.ImageHeader
	if err := region.ReadStruct(&hdr); err != nil {
		return api.ImageMetadata{}, fmt.Errorf("refresh metadata: %w", err)
	}
	return api.ImageMetadata{
		Magic:         hdr.Content.Magic,
		LastVersion:   hdr.Content.Version,
		LastIssueTime: hdr.Content.IssueTime,
	}, nil
}

// CoreUpdatePending reports whether plan carries a verified core update,
// which forces boot mode to CPATCHER regardless of any BOOT_TICKET
// (§4.6's "core update dominates BOOT_TICKET").
func (p Plan) CoreUpdatePending() bool {
	return p.CoreUpdate != nil
}

// BootTicketValid reports whether plan carries a verified BOOT_TICKET.
func (p Plan) BootTicketValid() bool {
	return p.BootTicket != nil
}
