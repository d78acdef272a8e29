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

//go:build !notrace

package trace

import "k8s.io/klog/v2"

func info(format string, args ...any) { klog.Infof(format, args...) }
func warn(format string, args ...any) { klog.Warningf(format, args...) }
func errf(format string, args ...any) { klog.Errorf(format, args...) }
func v2(format string, args ...any)   { klog.V(2).Infof(format, args...) }
