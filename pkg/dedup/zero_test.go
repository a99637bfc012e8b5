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

func TestZeroPageMergeReplacesWithCanonicalZero(t *testing.T) {
	adapter := NewFakePageAdapter()
	zeroContent := make([]byte, pageSize)
	page := adapter.NewPage(zeroContent)
	d := NewDescriptor(page, 1, 0)

	zp := &ZeroPage{}
	if err := zp.Merge(adapter, d); err != nil {
		t.Fatalf("Merge() error: %s", err)
	}

	canonical, err := adapter.ZeroPage()
	if err != nil {
		t.Fatalf("ZeroPage() error: %s", err)
	}
	if err := adapter.ReadContent(page, make([]byte, pageSize)); err == nil {
		t.Fatalf("original page still readable after zero merge")
	}
	if err := adapter.ReadContent(canonical, make([]byte, pageSize)); err != nil {
		t.Fatalf("canonical zero page unreadable: %s", err)
	}
}

func TestZeroPageMergeIsIdempotentOnTheCanonicalPageItself(t *testing.T) {
	adapter := NewFakePageAdapter()
	canonical, err := adapter.ZeroPage()
	if err != nil {
		t.Fatalf("ZeroPage() error: %s", err)
	}
	d := &Descriptor{Page: canonical, Space: 1}

	zp := &ZeroPage{}
	if err := zp.Merge(adapter, d); err != nil {
		t.Fatalf("Merge() on the canonical page itself returned an error: %s", err)
	}
}
