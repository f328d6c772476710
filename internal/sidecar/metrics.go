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

package sidecar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sidecarSpawns counts spawn attempts by result
	sidecarSpawns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_sidecar_spawns_total",
			Help: "Total sidecar spawn attempts by result",
		},
		[]string{"result"},
	)

	// sidecarOutputLines counts relayed output lines by stream
	sidecarOutputLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_sidecar_output_lines_total",
			Help: "Total sidecar output lines relayed by stream",
		},
		[]string{"stream"},
	)

	// sidecarTerminations counts kills by trigger and result
	sidecarTerminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_sidecar_terminations_total",
			Help: "Total sidecar terminations by shutdown trigger and result",
		},
		[]string{"trigger", "result"},
	)

	// sidecarRunning is 1 while the worker's output stream is open
	sidecarRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortex_sidecar_running",
			Help: "Whether the sidecar process is running",
		},
	)
)

func recordSpawn(result string) {
	sidecarSpawns.WithLabelValues(result).Inc()
}

func recordLine(stream string) {
	sidecarOutputLines.WithLabelValues(stream).Inc()
}

func recordTermination(trigger, result string) {
	sidecarTerminations.WithLabelValues(trigger, result).Inc()
}
