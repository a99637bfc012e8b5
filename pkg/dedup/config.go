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
	"encoding/json"
	"fmt"
)

// EngineConfig is the JSON control surface of spec.md §6, shaped after
// the teacher's per-component SetConfigJson/GetConfigJson convention
// (memtier/policy_age.go's PolicyAgeConfig).
type EngineConfig struct {
	// Run starts the scanner loop when true and pauses it (without
	// discarding state) when false -- spec.md §6 "run".
	Run bool `json:"run"`
	// PagesToScan is the batch size of spec.md §4.1 step 2
	// ("pages_to_scan").
	PagesToScan int `json:"pages_to_scan"`
	// SleepMs is the inter-batch sleep of spec.md §4.1 step 5.
	SleepMs int `json:"sleep_ms"`
	// RefreshPeriodS bounds how long an unstable entry may go
	// without a checksum refresh, spec.md §4.5.
	RefreshPeriodS int `json:"refresh_period_s"`
	// DeferredTimerMs, when positive, replaces the SleepMs sleep
	// between batches with a rate limiter that lets at most one
	// batch start per DeferredTimerMs window (a coalesced timer).
	DeferredTimerMs int `json:"deferred_timer_ms"`
	// KeyMode selects the tree keying strategy, spec.md §3.
	KeyMode KeyMode `json:"key_mode"`
	// Adapter names the PageAdapter to instantiate via NewAdapter.
	Adapter string `json:"adapter"`
}

// DefaultEngineConfig mirrors the upstream kernel's own defaults
// (pages_to_scan=100, sleep_millisecs=20, refresh every 60s).
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Run:             true,
		PagesToScan:     100,
		SleepMs:         20,
		RefreshPeriodS:  60,
		DeferredTimerMs: 0,
		KeyMode:         KeyModeContent,
		Adapter:         "fake",
	}
}

func (c EngineConfig) validate() error {
	if c.PagesToScan <= 0 {
		return fmt.Errorf("invalid pages_to_scan: %d, > 0 expected", c.PagesToScan)
	}
	if c.SleepMs < 0 {
		return fmt.Errorf("invalid sleep_ms: %d, >= 0 expected", c.SleepMs)
	}
	if c.RefreshPeriodS <= 0 {
		return fmt.Errorf("invalid refresh_period_s: %d, > 0 expected", c.RefreshPeriodS)
	}
	if c.DeferredTimerMs < 0 {
		return fmt.Errorf("invalid deferred_timer_ms: %d, >= 0 expected", c.DeferredTimerMs)
	}
	if c.Adapter == "" {
		return fmt.Errorf("adapter name missing from engine configuration")
	}
	return nil
}

func unmarshalConfig(configJSON string, config *EngineConfig) error {
	if configJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(configJSON), config)
}
