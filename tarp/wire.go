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

// Wire encodings for the three TARP packet kinds of spec.md §6: the
// Broadcast header {epoch, metric, hops, parent}, the Unicast header
// {type, src, dst, hops} (src is implicit -- it's the 802.15.4 frame's own
// tx address, already carried by the MAC layer below us), and the REPORT
// payload (an ordered set of address/status deltas).
package tarp

import (
	"encoding/binary"
	"math"

	"github.com/wsnsim/wsnsim/phy"
)

// Wire frame kinds, one leading byte.
type kind byte

const (
	kindBeacon kind = iota
	kindReport
	kindData
)

func decodeKind(payload []byte) (kind, []byte) {
	if len(payload) == 0 {
		return kindData, nil
	}
	return kind(payload[0]), payload[1:]
}

const beaconWireSize = 1 + 4 + 8 + 1 + 2

// encodeBeacon lays out the Broadcast header verbatim: epoch(u32),
// metric(f64), hops(u8), parent(2B).
func encodeBeacon(epoch int, metric float64, hops uint8, parent phy.LinkAddr) []byte {
	buf := make([]byte, beaconWireSize)
	buf[0] = byte(kindBeacon)
	binary.BigEndian.PutUint32(buf[1:5], uint32(epoch))
	binary.BigEndian.PutUint64(buf[5:13], math.Float64bits(metric))
	buf[13] = hops
	binary.BigEndian.PutUint16(buf[14:16], uint16(parent))
	return buf
}

func decodeBeacon(rest []byte) (epoch int, metric float64, hops uint8, parent phy.LinkAddr) {
	if len(rest) < beaconWireSize-1 {
		return 0, math.Inf(1), 0, phy.InvalidAddr
	}
	epoch = int(binary.BigEndian.Uint32(rest[0:4]))
	metric = math.Float64frombits(binary.BigEndian.Uint64(rest[4:12]))
	hops = rest[12]
	parent = phy.LinkAddr(binary.BigEndian.Uint16(rest[13:15]))
	return
}

func encodeAddr(a phy.LinkAddr) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(a))
	return buf
}

func decodeAddr(payload []byte) phy.LinkAddr {
	return phy.LinkAddr(binary.BigEndian.Uint16(payload[0:2]))
}

// encodeData lays out the Unicast DATA header {dst:2B, hops:u8} followed
// by the application payload. src is implicit (the enclosing MAC frame's
// tx address).
func encodeData(dst phy.LinkAddr, hops uint8, payload []byte) []byte {
	buf := make([]byte, 1+2+1+len(payload))
	buf[0] = byte(kindData)
	copy(buf[1:3], encodeAddr(dst))
	buf[3] = hops
	copy(buf[4:], payload)
	return buf
}

func decodeData(rest []byte) (dst phy.LinkAddr, hops uint8, payload []byte, ok bool) {
	if len(rest) < 3 {
		return 0, 0, nil, false
	}
	dst = decodeAddr(rest[0:2])
	hops = rest[2]
	payload = rest[3:]
	return dst, hops, payload, true
}

const statDeltaWireSize = 2 + 1 + 8

func encodeReport(deltas []StatDelta) []byte {
	buf := make([]byte, 1, 1+len(deltas)*statDeltaWireSize)
	buf[0] = byte(kindReport)
	for _, d := range deltas {
		entry := make([]byte, statDeltaWireSize)
		copy(entry[0:2], encodeAddr(d.Addr))
		entry[2] = byte(d.Status)
		binary.BigEndian.PutUint64(entry[3:11], math.Float64bits(d.Metric))
		buf = append(buf, entry...)
	}
	return buf
}

func decodeReport(payload []byte) []StatDelta {
	var out []StatDelta
	for i := 0; i+statDeltaWireSize <= len(payload); i += statDeltaWireSize {
		entry := payload[i : i+statDeltaWireSize]
		out = append(out, StatDelta{
			Addr:   decodeAddr(entry[0:2]),
			Status: DeltaStatus(entry[2]),
			Metric: math.Float64frombits(binary.BigEndian.Uint64(entry[3:11])),
		})
	}
	return out
}
