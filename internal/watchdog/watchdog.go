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

// Package watchdog defines the narrow contract the Boot Mode Selector
// calls through to arm the authenticated watchdog peripheral (§6): an
// external collaborator, out of scope for this module to implement, the
// way spec.md §1 lists "the watchdog-timer peripheral itself" among the
// things this module calls but does not own.
package watchdog

// Watchdog is armed exactly once near the end of boot. After Init returns,
// the watchdog cannot be stopped by this module; only a management
// service reachable by the next layer can defer it further, by staging a
// fresh DEFERRAL_TICKET for the next boot.
type Watchdog interface {
	// Init arms the watchdog with the given deferral window. Called at
	// most once per boot.
	Init(deferralSeconds uint32) error
}

// Func adapts a plain function to the Watchdog interface, for production
// code wiring a single closure and for tests recording the call.
type Func func(deferralSeconds uint32) error

// Init implements Watchdog.
func (f Func) Init(deferralSeconds uint32) error { return f(deferralSeconds) }
