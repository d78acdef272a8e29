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

// Command lzcoreboot is the entry point invoked by the pre-boot stage: it
// wires the Flash Region Abstraction to the platform's flash driver,
// derives identity, applies updates, selects a boot mode, and performs
// the non-secure jump to the chosen next layer. The platform-specific
// pieces (the Device implementation, the raw boot-parameter window
// address, and the jump itself) are out of scope per spec.md §1 and are
// represented here by the Platform interface, the same seam the teacher's
// trusted_os/main.go draws around its usbarmory-specific board package.
package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/goombaio/namegenerator"
	"k8s.io/klog/v2"

	"github.com/syafiq/lazarus/api"
	"github.com/syafiq/lazarus/internal/bootmode"
	"github.com/syafiq/lazarus/internal/bootsel"
	"github.com/syafiq/lazarus/internal/imgverify"
	"github.com/syafiq/lazarus/internal/lzconst"
	"github.com/syafiq/lazarus/internal/lzflash"
	"github.com/syafiq/lazarus/internal/lzhalt"
	"github.com/syafiq/lazarus/internal/trace"
	"github.com/syafiq/lazarus/internal/watchdog"
)

// initialized at compile time via -ldflags "-X main.Build=... -X main.Revision=..."
var (
	Build    string
	Revision string
)

// Platform is the out-of-scope collaborator set this command needs to run
// on real hardware: the flash device, the boot-parameter window, the
// watchdog peripheral, and the non-secure jump itself. A production build
// supplies a concrete implementation from a board-support package the way
// the teacher's trusted_os/main.go wires usbarmory.MMC and imx6ul into
// its flash and watchdog use.
type Platform interface {
	FlashDevice() lzflash.Device
	ReadBootParams() (*api.BootParams, error)
	Watchdog() watchdog.Watchdog
	Counter() imgverify.MonotonicCounter // may return nil
	Halt(reason string)
	SwitchTo(mode bootmode.Mode, next api.NextLayerBootParams, certs api.ImageCertStore) error
}

// layout describes where each fixed-address region sits on the flash
// device, in block units. A production build computes these from the
// platform linker script per §6; this placeholder layout gives the data
// store as many blocks as a marshaled api.DataStore needs, the staging
// area lzconst.StagingAreaPages blocks, and each of the four image regions
// 256 blocks, purely so this command is a complete, wireable example
// rather than a stub.
type layout struct {
	dataStoreLBA, dataStoreBlocks  int
	stagingLBA, stagingBlocks      int
	coreLBA, cPatcherLBA, uDownLBA int
	appLBA, imageBlocks            int
}

// dataStoreSizeBlocks returns the number of PageSize blocks needed to hold
// a marshaled api.DataStore, rounded up. Hard-coding a block count here has
// bitten this layout once already: api.DataStore marshals to more than
// 4096 bytes, so a fixed 8-block (4096-byte) region silently failed the
// very first WriteStruct of a boot.
func dataStoreSizeBlocks() int {
	size := api.Size(api.DataStore{})
	return (size + lzconst.PageSize - 1) / lzconst.PageSize
}

func defaultLayout() layout {
	dsBlocks := dataStoreSizeBlocks()
	return layout{
		dataStoreLBA:    0,
		dataStoreBlocks: dsBlocks,
		stagingLBA:      dsBlocks,
		stagingBlocks:   lzconst.StagingAreaPages,
		coreLBA:         dsBlocks + lzconst.StagingAreaPages,
		cPatcherLBA:     dsBlocks + lzconst.StagingAreaPages + 256,
		uDownLBA:        dsBlocks + lzconst.StagingAreaPages + 512,
		appLBA:          dsBlocks + lzconst.StagingAreaPages + 768,
		imageBlocks:     256,
	}
}

func run(ctx context.Context, p Platform) (bootsel.Outcome, error) {
	seed := rand.New(rand.NewSource(time.Now().UnixNano()))
	sessionName := namegenerator.NewNameGenerator(seed.Int63()).Generate()
	trace.Infof("lzcoreboot: boot session %q (build %s, revision %s)", sessionName, Build, Revision)

	dev := p.FlashDevice()
	l := defaultLayout()

	dataStore, err := lzflash.NewRegion(dev, l.dataStoreLBA, l.dataStoreBlocks)
	if err != nil {
		return bootsel.Outcome{}, err
	}
	stagingArea, err := lzflash.NewRegion(dev, l.stagingLBA, l.stagingBlocks)
	if err != nil {
		return bootsel.Outcome{}, err
	}
	core, err := lzflash.NewRegion(dev, l.coreLBA, l.imageBlocks)
	if err != nil {
		return bootsel.Outcome{}, err
	}
	cPatcher, err := lzflash.NewRegion(dev, l.cPatcherLBA, l.imageBlocks)
	if err != nil {
		return bootsel.Outcome{}, err
	}
	uDownloader, err := lzflash.NewRegion(dev, l.uDownLBA, l.imageBlocks)
	if err != nil {
		return bootsel.Outcome{}, err
	}
	app, err := lzflash.NewRegion(dev, l.appLBA, l.imageBlocks)
	if err != nil {
		return bootsel.Outcome{}, err
	}

	params, err := p.ReadBootParams()
	if err != nil {
		return bootsel.Outcome{}, err
	}

	cfg := bootsel.Config{
		DataStore:   dataStore,
		Staging:     stagingArea,
		Core:        core,
		CPatcher:    cPatcher,
		UDownloader: uDownloader,
		App:         app,
		Watchdog:    p.Watchdog(),
		Halt:        p.Halt,
		Counter:     p.Counter(),
	}

	return bootsel.Run(ctx, params, cfg)
}

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	trace.Infof("lzcoreboot: starting (build %s, revision %s)", Build, Revision)

	p := platformHook
	if p == nil {
		trace.Errf("lzcoreboot: no platform wired; this command must be linked with a board-support package that sets platformHook")
		lzhalt.Halt(func(reason string) { trace.Errf("halt: %s", reason) }, "no platform")
		return
	}

	outcome, err := run(context.Background(), p)
	if err != nil {
		trace.Errf("lzcoreboot: boot decision failed: %v", err)
		return
	}

	if err := p.SwitchTo(outcome.Mode, outcome.NextLayerParams, outcome.CertStore); err != nil {
		trace.Errf("lzcoreboot: switch to %s failed: %v", outcome.Mode, err)
	}
}

// platformHook is set by a board-specific init() in a build tag-gated
// file (not included in this repository, which stays hardware-agnostic
// per spec.md §1's "pre-boot stage ... out of scope"). It is nil in this
// tree; production builds link in a file that assigns it.
var platformHook Platform
