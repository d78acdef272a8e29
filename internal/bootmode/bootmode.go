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

// Package bootmode defines the three boot modes the Boot Mode Selector
// (§4.7) can choose between, shared by internal/bootsel and
// internal/provision to avoid an import cycle between them.
package bootmode

// Mode is one of the three next-layer targets the core can select.
type Mode int

const (
	// UDownloader is the recovery/maintenance layer: able to reach the
	// management service and fetch updates. It is the default and the
	// fallback target when the App image fails to verify.
	UDownloader Mode = iota
	// CPatcher repairs the core itself. Its own verification failure is
	// fatal: if it can't be trusted, nothing can repair the device.
	CPatcher
	// App is the normal operating layer. Its verification failure is the
	// one recoverable case (the "dominance principle").
	App
)

func (m Mode) String() string {
	switch m {
	case UDownloader:
		return "UDOWNLOADER"
	case CPatcher:
		return "CPATCHER"
	case App:
		return "APP"
	default:
		return "UNKNOWN"
	}
}
