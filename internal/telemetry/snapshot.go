// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package telemetry

import (
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"

	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// Sample is one labelled value of a metric family. Histograms report their
// observation count and sum.
type Sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"`
	Sum    float64           `json:"sum,omitempty"`
}

// Snapshot is the JSON rendering of the registry served by /telemetry.
type Snapshot struct {
	Requests      float64             `json:"requests_total"`
	Fallbacks     float64             `json:"fallback_total"`
	FallbackRate  float64             `json:"fallback_rate"`
	DroppedTraces float64             `json:"dropped_trace_total"`
	Metrics       map[string][]Sample `json:"metrics"`
}

// Snapshot gathers the registry into a JSON-friendly structure. Metric
// names have the namespace prefix stripped.
func (m *Metrics) Snapshot() (Snapshot, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Snapshot{}, wperr.Wrap(err, wperr.CodeServerInternalFailure, "gathering metrics")
	}

	snap := Snapshot{Metrics: make(map[string][]Sample, len(families))}
	for _, mf := range families {
		name := strings.TrimPrefix(mf.GetName(), namespace+"_")
		samples := make([]Sample, 0, len(mf.GetMetric()))
		for _, metric := range mf.GetMetric() {
			samples = append(samples, sampleOf(mf.GetType(), metric))
		}
		sort.Slice(samples, func(i, j int) bool {
			return labelKey(samples[i].Labels) < labelKey(samples[j].Labels)
		})
		snap.Metrics[name] = samples
	}

	snap.Requests = total(snap.Metrics["requests_total"])
	snap.Fallbacks = total(snap.Metrics["fallback_total"])
	snap.DroppedTraces = total(snap.Metrics["dropped_trace_total"])
	if snap.Requests > 0 {
		snap.FallbackRate = snap.Fallbacks / snap.Requests
	}
	return snap, nil
}

func sampleOf(typ dto.MetricType, metric *dto.Metric) Sample {
	s := Sample{}
	if pairs := metric.GetLabel(); len(pairs) > 0 {
		s.Labels = make(map[string]string, len(pairs))
		for _, lp := range pairs {
			s.Labels[lp.GetName()] = lp.GetValue()
		}
	}

	switch typ {
	case dto.MetricType_COUNTER:
		s.Value = metric.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		s.Value = metric.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		h := metric.GetHistogram()
		s.Count = h.GetSampleCount()
		s.Sum = h.GetSampleSum()
		if s.Count > 0 {
			s.Value = s.Sum / float64(s.Count)
		}
	default:
		s.Value = metric.GetUntyped().GetValue()
	}
	return s
}

func total(samples []Sample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
