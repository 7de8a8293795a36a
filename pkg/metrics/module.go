/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Resolution metrics
	resolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neuron_resolutions_total",
		Help: "Total number of identifier resolutions",
	}, []string{"kind", "result"})

	instancesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuron_instances_created_total",
		Help: "Total number of module instances created",
	})

	exportsGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neuron_exports_generated_total",
		Help: "Total number of module initializations",
	}, []string{"result"})

	asyncRefused = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuron_async_refused_total",
		Help: "Total number of deferred requests refused for non-entry foreign modules",
	})
)

func init() {
	Registry.MustRegister(
		resolutionsTotal,
		instancesCreated,
		exportsGenerated,
		asyncRefused,
	)
}

// RecordResolution records an identifier resolution
// kind: "relative" or "absolute"
// result: "success" or "failure"
func RecordResolution(kind, result string) {
	resolutionsTotal.WithLabelValues(kind, result).Inc()
}

// RecordInstanceCreated records the creation of a module instance
func RecordInstanceCreated() {
	instancesCreated.Inc()
}

// RecordExports records a module initialization
// result: "success", "failure" or "undefined"
func RecordExports(result string) {
	exportsGenerated.WithLabelValues(result).Inc()
}

// RecordAsyncRefused records a silently refused deferred request
func RecordAsyncRefused() {
	asyncRefused.Inc()
}
