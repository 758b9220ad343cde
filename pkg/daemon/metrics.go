// Copyright 2025 Tom Barlow
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

package daemon

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "lifeline"

// StatusCollector exports the daemon's status as Prometheus metrics. Each
// scrape samples the process group afresh.
type StatusCollector struct {
	d       *Daemon
	timeout time.Duration

	up      *prometheus.Desc
	cpu     *prometheus.Desc
	mem     *prometheus.Desc
	uptime  *prometheus.Desc
	members *prometheus.Desc
}

// NewStatusCollector returns a collector for d. Register it with a
// prometheus.Registerer.
func NewStatusCollector(d *Daemon) *StatusCollector {
	labels := prometheus.Labels{"prog": d.cfg.Prog}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "daemon", name), help, nil, labels)
	}
	return &StatusCollector{
		d:       d,
		timeout: 2 * time.Second,
		up:      desc("up", "Whether the daemon is running (1) or not (0)."),
		cpu:     desc("cpu_percent", "CPU utilisation summed over the daemon's process group."),
		mem:     desc("memory_percent", "Resident memory of the daemon's process group, in percent of physical memory."),
		uptime:  desc("uptime_seconds", "Seconds since the daemon process started."),
		members: desc("group_processes", "Number of processes in the daemon's process group."),
	}
}

// Describe implements prometheus.Collector.
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.cpu
	ch <- c.mem
	ch <- c.uptime
	ch <- c.members
}

// Collect implements prometheus.Collector.
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	st, err := c.d.Status(ctx)
	if st == nil || !st.Running() {
		if st == nil && err != nil {
			ch <- prometheus.NewInvalidMetric(c.up, err)
			return
		}
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, st.CPU)
	ch <- prometheus.MustNewConstMetric(c.mem, prometheus.GaugeValue, st.Mem)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, st.Uptime.Seconds())
	ch <- prometheus.MustNewConstMetric(c.members, prometheus.GaugeValue, float64(len(st.Members)))
}
