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

// Command wsnsim-demo is a minimal, illustrative entry point exercising the
// core simulation end to end: a five-node linear chain forms a TARP tree
// and relays one application payload from the leaf to the root. It is not
// the scenario driver -- real experiments are expected to use the sim,
// config, and signals packages directly the way this file does, the same
// way OTNS ships small illustrative commands (e.g. cmd/otns-*) alongside
// its dispatcher/simulation libraries rather than folding everything into
// one monolithic binary.
package main

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/wsnsim/wsnsim/config"
	"github.com/wsnsim/wsnsim/geo"
	"github.com/wsnsim/wsnsim/internal/logging"
	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/node"
	"github.com/wsnsim/wsnsim/phy"
	"github.com/wsnsim/wsnsim/sim"
	"github.com/wsnsim/wsnsim/signals"
)

// pingApp is a trivial node.Application: it sends one payload to dst
// from Start, and logs whatever it receives.
type pingApp struct {
	self node.Net
	dst  phy.LinkAddr
	send bool
}

func (a *pingApp) Start() {
	if !a.send {
		return
	}
	a.self.Send([]byte("hello root"), a.dst)
}

func (a *pingApp) Receive(payload []byte, src phy.LinkAddr, hops uint8) {
	logging.Infof("demo: delivered %q from %d over %d hops", string(payload), src, hops)
}

func main() {
	channelSet := flag.String("channel", "stable", "named channel parameter set (see config.Default)")
	chain := flag.Int("chain", 5, "number of nodes in the linear chain")
	seed := flag.Int64("seed", 1, "PRNG root seed")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics at this address (e.g. :9090) and block")
	flag.Parse()

	cfg := config.Default()
	params, err := cfg.Resolve(*channelSet)
	if err != nil {
		logging.Fatalf("demo: %v", err)
	}

	s, err := sim.Build(params, 5.0, 20, *seed, 0)
	if err != nil {
		logging.Fatalf("demo: %v", err)
	}

	stats := sim.NewStats()
	s.Attach(stats)
	s.Subscribe(signals.SubscriberFunc(func(sig signals.Signal) {
		logging.Debugf("signal: %+v", sig)
	}))

	var leaf, root node.Handle
	for i := 0; i < *chain; i++ {
		isRoot := i == 0
		id := fmt.Sprintf("n%d", i)
		h := s.AddNode(sim.NodeConfig{
			ID:     id,
			Pos:    geo.Point{X: float64(i) * 10, Y: 0},
			IsRoot: isRoot,
			NewApp: func(net node.Net) node.Application {
				return &pingApp{self: net}
			},
		})
		if isRoot {
			root = h
		}
		if i == *chain-1 {
			leaf = h
		}
	}

	if layers, ok := s.Registry().ByID(leaf.ID); ok {
		if app, ok := layers.App.(*pingApp); ok {
			app.dst = root.LinkAddr
			app.send = true
		}
	}

	s.Start()
	s.RunUntil(kernel.Time(30 * 1_000_000))

	logging.Infof("demo: simulation reached t=%d us", s.Now())

	if *metricsAddr != "" {
		http.Handle("/metrics", stats.Handler())
		logging.Infof("demo: serving metrics on %s/metrics", *metricsAddr)
		logging.FatalfIfError(http.ListenAndServe(*metricsAddr, nil), "demo: metrics server")
	}
}
