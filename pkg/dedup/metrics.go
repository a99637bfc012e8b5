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

import "github.com/prometheus/client_golang/prometheus"

// metricsCollector exports the six-plus-one flat counters of spec.md
// §6 as Prometheus gauges, grounded on pkg/metrics.RegisterCollector's
// registry idiom but implemented directly against prometheus.Collector
// since the engine's own counters, not a package-wide registry of
// pluggable collectors, are what cmd/ksmd needs to expose.
type metricsCollector struct {
	engine *Engine

	pagesShared      *prometheus.Desc
	pagesSharing     *prometheus.Desc
	pagesUnshared    *prometheus.Desc
	pagesZeroSharing *prometheus.Desc
	stableNodes      *prometheus.Desc
	rmapItems        *prometheus.Desc
	fullScans        *prometheus.Desc
}

// NewCollector returns a prometheus.Collector exposing e's counters,
// suitable for registration with a prometheus.Registerer in cmd/ksmd.
func NewCollector(e *Engine) prometheus.Collector {
	ns := "ksmd"
	return &metricsCollector{
		engine:           e,
		pagesShared:      prometheus.NewDesc(ns+"_pages_shared", "Distinct stable-tree entries currently being shared (zero-page merges are not counted).", nil, nil),
		pagesSharing:     prometheus.NewDesc(ns+"_pages_sharing", "Extra references to shared pages beyond the first (deduplication savings).", nil, nil),
		pagesUnshared:    prometheus.NewDesc(ns+"_pages_unshared", "Unstable-tree size.", nil, nil),
		pagesZeroSharing: prometheus.NewDesc(ns+"_pages_zero_sharing", "Pages merged into the canonical all-zero page.", nil, nil),
		stableNodes:      prometheus.NewDesc(ns+"_stable_nodes", "Stable-tree node count.", nil, nil),
		rmapItems:        prometheus.NewDesc(ns+"_rmap_items", "Live descriptor count.", nil, nil),
		fullScans:        prometheus.NewDesc(ns+"_full_scans", "Completed scan batches.", nil, nil),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pagesShared
	ch <- c.pagesSharing
	ch <- c.pagesUnshared
	ch <- c.pagesZeroSharing
	ch <- c.stableNodes
	ch <- c.rmapItems
	ch <- c.fullScans
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.Stats()
	ch <- prometheus.MustNewConstMetric(c.pagesShared, prometheus.GaugeValue, float64(s.PagesShared))
	ch <- prometheus.MustNewConstMetric(c.pagesSharing, prometheus.GaugeValue, float64(s.PagesSharing))
	ch <- prometheus.MustNewConstMetric(c.pagesUnshared, prometheus.GaugeValue, float64(s.PagesUnshared))
	ch <- prometheus.MustNewConstMetric(c.pagesZeroSharing, prometheus.GaugeValue, float64(s.PagesZeroSharing))
	ch <- prometheus.MustNewConstMetric(c.stableNodes, prometheus.GaugeValue, float64(s.StableNodes))
	ch <- prometheus.MustNewConstMetric(c.rmapItems, prometheus.GaugeValue, float64(s.RmapItems))
	ch <- prometheus.MustNewConstMetric(c.fullScans, prometheus.CounterValue, float64(s.FullScans))
}
