// Copyright (c) 2020-2023, The OTNS Authors.
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the distribution.
// 3. Neither the name of the copyright holder nor the
//    names of its contributors may be used to endorse or promote products
//    derived from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
// ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
// LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
// CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
// SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
// CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
// ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
// POSSIBILITY OF SUCH DAMAGE.

package sim

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wsnsim/wsnsim/signals"
)

// Stats is a signals.Subscriber that maintains a Simulation's live
// Prometheus metrics on an isolated registry, the way shurli's
// pkg/p2pnet.Metrics keeps its own prometheus.Registry rather than
// registering onto prometheus.DefaultRegisterer -- two Simulations running
// in the same test binary must not collide on metric names.
type Stats struct {
	Registry *prometheus.Registry

	appSent       *prometheus.CounterVec
	appDelivered  *prometheus.CounterVec
	appLatency    *prometheus.HistogramVec
	tarpParentCh  *prometheus.CounterVec
	tarpDrops     *prometheus.CounterVec
	tarpOrphaned  *prometheus.CounterVec
	macSendOK     *prometheus.CounterVec
	macSendFail   *prometheus.CounterVec
	macRetries    prometheus.Histogram
	phyDecodeOK   *prometheus.CounterVec
	phyDecodeFail *prometheus.CounterVec
	phyCCABusy    *prometheus.CounterVec
}

// NewStats builds a Stats with every metric registered and zeroed.
func NewStats() *Stats {
	reg := prometheus.NewRegistry()

	s := &Stats{
		Registry: reg,
		appSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_app_sends_total",
			Help: "Total application-layer send attempts, by node.",
		}, []string{"node"}),
		appDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_app_delivered_total",
			Help: "Total application-layer payloads delivered, by receiving node.",
		}, []string{"node"}),
		appLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wsnsim_app_latency_seconds",
			Help:    "End-to-end source-to-destination latency for delivered payloads.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"node"}),
		tarpParentCh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_tarp_parent_changes_total",
			Help: "Total TARP parent changes, by node.",
		}, []string{"node"}),
		tarpDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_tarp_drops_total",
			Help: "Total TARP-layer send drops, by node and cause.",
		}, []string{"node", "cause"}),
		tarpOrphaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_tarp_orphaned_total",
			Help: "Total times a node became orphaned (lost its parent with no replacement).",
		}, []string{"node"}),
		macSendOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_mac_send_ok_total",
			Help: "Total MAC-layer sends acknowledged successfully, by node.",
		}, []string{"node"}),
		macSendFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_mac_send_fail_total",
			Help: "Total MAC-layer sends that failed (backoff exhaustion or ACK retries exhausted), by node.",
		}, []string{"node"}),
		macRetries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wsnsim_mac_retries",
			Help:    "Distribution of MAC-layer retry counts across completed sends.",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		}),
		phyDecodeOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_phy_decode_success_total",
			Help: "Total PHY-layer frame decodes that succeeded (captured), by node.",
		}, []string{"node"}),
		phyDecodeFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_phy_decode_fail_total",
			Help: "Total PHY-layer frame decodes that failed (below capture threshold), by node.",
		}, []string{"node"}),
		phyCCABusy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsnsim_phy_cca_busy_total",
			Help: "Total CCA checks that found the channel busy, by node.",
		}, []string{"node"}),
	}

	reg.MustRegister(
		s.appSent, s.appDelivered, s.appLatency,
		s.tarpParentCh, s.tarpDrops, s.tarpOrphaned,
		s.macSendOK, s.macSendFail, s.macRetries,
		s.phyDecodeOK, s.phyDecodeFail, s.phyCCABusy,
	)
	return s
}

// OnSignal implements signals.Subscriber, folding each emitted signal into
// the matching Prometheus collector. It never sees kernel.Time, so latency
// samples aren't derived here -- a scenario wanting latency calls
// ObserveLatency itself, computed from paired send/receive kernel.Time
// values the way OTNS's visualization layer pairs dispatch events.
func (s *Stats) OnSignal(sig signals.Signal) {
	switch v := sig.(type) {
	case signals.AppSignal:
		switch v.Kind {
		case signals.AppSendResult:
			s.appSent.WithLabelValues(string(v.Node)).Inc()
		case signals.AppReceive:
			s.appDelivered.WithLabelValues(string(v.Node)).Inc()
		}
	case signals.TarpSignal:
		switch v.Kind {
		case signals.TarpParentChange:
			s.tarpParentCh.WithLabelValues(string(v.Node)).Inc()
		case signals.TarpOrphaned:
			s.tarpOrphaned.WithLabelValues(string(v.Node)).Inc()
		case signals.TarpDrop:
			s.tarpDrops.WithLabelValues(string(v.Node), v.DropCause.String()).Inc()
		}
	case signals.MacSignal:
		switch v.Kind {
		case signals.MacSendOK:
			s.macSendOK.WithLabelValues(string(v.Node)).Inc()
			s.macRetries.Observe(float64(v.Retries))
		case signals.MacSendFail:
			// The terminal outcome for every failed send, including one
			// that failed by exhausting backoffs -- MacBackoffExhausted is
			// an informational signal mac.Instance.OnRdcNotSent emits
			// alongside this one, not a second, independent failure.
			s.macSendFail.WithLabelValues(string(v.Node)).Inc()
			s.macRetries.Observe(float64(v.Retries))
		}
	case signals.PhySignal:
		switch v.Kind {
		case signals.PhyDecodeSuccess:
			s.phyDecodeOK.WithLabelValues(string(v.Node)).Inc()
		case signals.PhyDecodeFail:
			s.phyDecodeFail.WithLabelValues(string(v.Node)).Inc()
		case signals.PhyCCABusy:
			s.phyCCABusy.WithLabelValues(string(v.Node)).Inc()
		}
	}
}

// ObserveLatency records a single source-to-destination delivery latency
// sample (in seconds) for node. A scenario computes this itself from
// kernel.Time deltas between a send and its matching AppReceive, the same
// way OTNS's web/visualize layer derives latency from paired dispatch
// events rather than the radio model carrying a latency field itself.
func (s *Stats) ObserveLatency(node signals.NodeID, seconds float64) {
	s.appLatency.WithLabelValues(string(node)).Observe(seconds)
}

// Handler serves the registry's metrics in the Prometheus text exposition
// format, for a scenario or demo binary to mount under e.g. /metrics.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}

// Attach subscribes s to every signal this Simulation's nodes emit.
func (sim *Simulation) Attach(s *Stats) {
	sim.Subscribe(s)
}
