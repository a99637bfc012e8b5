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

import "testing"

func TestDescQueueFIFOOrder(t *testing.T) {
	q := newDescQueue()
	a, b, c := &Descriptor{Page: 1}, &Descriptor{Page: 2}, &Descriptor{Page: 3}
	q.Push(a)
	q.Push(b)
	q.Push(c)

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	drained := q.DrainUpTo(2)
	if len(drained) != 2 || drained[0] != a || drained[1] != b {
		t.Fatalf("DrainUpTo(2) = %v, want [a b]", drained)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() after partial drain = %d, want 1", q.Len())
	}
	rest := q.DrainAll()
	if len(rest) != 1 || rest[0] != c {
		t.Fatalf("DrainAll() = %v, want [c]", rest)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() after DrainAll = %d, want 0", q.Len())
	}
}

func TestDescQueueRemove(t *testing.T) {
	q := newDescQueue()
	a, b := &Descriptor{Page: 1}, &Descriptor{Page: 2}
	q.Push(a)
	q.Push(b)

	if !q.Remove(a) {
		t.Fatalf("Remove(a) = false, want true")
	}
	if q.Remove(a) {
		t.Fatalf("Remove(a) again = true, want false")
	}
	remaining := q.DrainAll()
	if len(remaining) != 1 || remaining[0] != b {
		t.Fatalf("remaining = %v, want [b]", remaining)
	}
}
