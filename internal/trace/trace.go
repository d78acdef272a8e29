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

// Package trace is the single diagnostic trace sink used across the boot
// chain. It is never part of the trust boundary: nothing in the boot
// decision depends on whether a trace line was emitted. Build with the
// "notrace" tag (see trace_disabled.go) to compile every call in this
// package to a no-op, matching design note #9's "calls become no-ops under
// a compile-time feature" strategy.
package trace

// Infof logs a routine diagnostic message.
func Infof(format string, args ...any) {
	info(format, args...)
}

// Warnf logs a recoverable condition, e.g. an element skipped during a
// staging scan.
func Warnf(format string, args ...any) {
	warn(format, args...)
}

// Errf logs a failure that the caller is about to turn into a fatal halt or
// a mode change.
func Errf(format string, args ...any) {
	errf(format, args...)
}

// V2f logs verbose, high-volume trace (e.g. per-element digests) gated
// behind klog verbosity level 2, matching the teacher's use of
// klog.V(2).Infof for noisy storage-layer trace.
func V2f(format string, args ...any) {
	v2(format, args...)
}
