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

// Package lzhalt is the single choke point for the boot chain's two
// terminal, non-returning states: a fatal halt (mirroring
// lz_error_handler()'s "for (;;);") and an indefinite block pending
// provisioning. Keeping both behind one small package means every caller
// that can halt the device is auditable by grepping this package's
// importers.
package lzhalt

import "context"

// Func is the hook invoked by Halt and Block. Production wires this to an
// infinite loop (or a platform-specific low-power wait); tests substitute a
// function that records the call and returns so the test process doesn't
// actually hang.
type Func func(reason string)

// Halt enters the fatal, unrecoverable halt state. Only a hardware-level
// watchdog reset (if already armed) can bring the device back, returning it
// to the pre-boot stage.
func Halt(fn Func, reason string) {
	fn(reason)
}

// Block waits indefinitely for provisioning to complete, returning only if
// ctx is canceled (tests use this to avoid hanging forever; production
// passes context.Background(), which never returns). Unlike Halt, this is
// an expected, recoverable condition on a freshly manufactured device.
func Block(ctx context.Context, fn Func, reason string) {
	fn(reason)
	<-ctx.Done()
}
