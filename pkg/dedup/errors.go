// Copyright 2021 Intel Corporation. All Rights Reserved.
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

package dedup

import (
	"errors"
	"fmt"
)

// Precondition violations (spec.md §7) are rejected at the API
// boundary with one of these sentinel errors.
var (
	ErrAlreadyTracked   = errors.New("dedup: page is already tracked")
	ErrNotAnonymous     = errors.New("dedup: page is not anonymous")
	ErrNilDescriptor    = errors.New("dedup: nil descriptor")
	ErrNilSpace         = errors.New("dedup: nil address-space anchor")
	ErrUnknownPage      = errors.New("dedup: death notification for untracked page")
	ErrAllocFailed      = errors.New("dedup: descriptor allocation failed")
	ErrEngineNotRunning = errors.New("dedup: engine is not running")
	ErrEngineRunning    = errors.New("dedup: engine is already running")
)

// birthError wraps one of the sentinels above with the offending page,
// the way the teacher wraps pidwatcher/tracker configuration errors
// with fmt.Errorf("%w", ...) (memtier/policy_age.go SetConfig).
func birthError(page PageID, err error) error {
	return fmt.Errorf("on_birth(%s): %w", page, err)
}
