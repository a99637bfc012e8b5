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

// Package dedup implements an anonymous-page deduplication engine: it
// scans anonymous memory pages tracked on its behalf, finds pages with
// identical content across processes, and merges them into a single
// shared, write-protected page. All-zero pages are merged into one
// canonical zero page.
//
// The engine never touches page tables or TLBs itself; a PageAdapter
// supplied by the caller does that. This package owns only the
// deduplication state machine: descriptors, the stable/unstable trees,
// the scanner loop, the reverse-mapping registry and the four work
// queues that feed it.
package dedup
