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

import "bytes"

// hashCompare orders candidates by checksum alone ("RHASH" mode,
// spec.md §4.4): comparisons are O(1), a tie only means "candidate for
// content verification", done separately by the caller.
func hashCompare(target Checksum) CompareFunc {
	return func(other *Descriptor) int {
		switch {
		case target < other.Checksum:
			return -1
		case target > other.Checksum:
			return 1
		default:
			return 0
		}
	}
}

// contentCompare orders candidates by full page content (content
// mode, spec.md §4.4): a tie is an exact match, no further
// verification needed. Reads other's current content through adapter
// on every comparison; if the read fails the node is treated as
// already gone and ordered last so the walk's stale-pruning on the
// next pass (isStale checks DELETED/null-page first) has a chance to
// remove it properly.
func contentCompare(adapter PageAdapter, target []byte) CompareFunc {
	buf := make([]byte, len(target))
	return func(other *Descriptor) int {
		if err := adapter.ReadContent(other.Page, buf); err != nil {
			return -1
		}
		return bytes.Compare(target, buf)
	}
}
