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

// Package lzconst holds the compile-time constants shared across the boot
// chain: the structure magic, flash geometry, and watchdog defaults. There
// is no runtime configuration file — these are fixed at build time, the
// same way the teacher bakes its equivalents in with linker -X flags.
package lzconst

// Magic is the single 32-bit sentinel that marks a structure as
// initialized. All structures (boot params, data store, staging headers,
// image headers, cert store) share it.
const Magic uint32 = 0x4c5a4445 // "LZDE" - LaZarus DEvice

// Erased is the byte value flash reads back as after a page erase.
const Erased byte = 0xFF

// PageSize is the flash erase/program granularity assumed by
// internal/lzflash. Structures written through the Flash Region
// Abstraction are sized (and zero-padded) to a multiple of this.
const PageSize = 512

// StagingAreaPages is the number of PageSize pages making up the staging
// area, mirroring LZ_STAGING_AREA_NUM_PAGES in the original source.
const StagingAreaPages = 64

// DefaultWatchdogTimeoutSeconds is used when no valid DEFERRAL_TICKET is
// found on the staging area, matching DEFAULT_WDT_TIMOUT_s.
const DefaultWatchdogTimeoutSeconds = 24 * 60 * 60

// NonceLen is the byte length of cur_nonce/next_nonce.
const NonceLen = 16

// UUIDLen is the byte length of dev_uuid (a binary UUIDv4).
const UUIDLen = 16

// DevAuthLen is the byte length of the dev_auth HMAC tag (SHA-256 output
// size).
const DevAuthLen = 32
