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
	// Fetch metrics
	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neuron_fetch_total",
		Help: "Total number of package fetches",
	}, []string{"source", "result"})

	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neuron_fetch_duration_seconds",
		Help:    "Duration of package fetches",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	}, []string{"source"})

	fetchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neuron_fetch_retries_total",
		Help: "Total number of package fetch retries",
	}, []string{"source"})

	// Cache metrics
	cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neuron_cache_requests_total",
		Help: "Total number of package cache lookups",
	}, []string{"cache", "result"})

	cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neuron_cache_evictions_total",
		Help: "Total number of package cache evictions",
	}, []string{"cache"})

	// Manifest metrics
	manifestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neuron_manifest_errors_total",
		Help: "Total number of package manifests that failed to compile",
	})

	packagesDefined = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neuron_packages_defined",
		Help: "Number of packages whose modules are currently defined",
	})
)

func init() {
	Registry.MustRegister(
		fetchTotal,
		fetchDuration,
		fetchRetries,
		cacheRequests,
		cacheEvictions,
		manifestErrors,
		packagesDefined,
	)
}

// RecordFetch records a package fetch
// source: fetcher name ("dir", "http", "git", "oci", "inline")
// result: "success" or "failure"
func RecordFetch(source, result string, durationSeconds float64) {
	fetchTotal.WithLabelValues(source, result).Inc()
	fetchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordFetchRetry records a retried fetch
func RecordFetchRetry(source string) {
	fetchRetries.WithLabelValues(source).Inc()
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cache string) {
	cacheRequests.WithLabelValues(cache, "hit").Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cache string) {
	cacheRequests.WithLabelValues(cache, "miss").Inc()
}

// RecordCacheEviction records an evicted cache entry
func RecordCacheEviction(cache string) {
	cacheEvictions.WithLabelValues(cache).Inc()
}

// RecordManifestError records a manifest compile failure
func RecordManifestError() {
	manifestErrors.Inc()
}

// IncrementPackagesDefined increments the defined packages gauge
func IncrementPackagesDefined() {
	packagesDefined.Inc()
}
