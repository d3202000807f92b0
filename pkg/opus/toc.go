// toniecraft - page-accurate audio container tooling for Toniebox figurines.
// Copyright (C) 2026 the toniecraft contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package opus models Opus packets at the framing level defined by
// RFC 6716 section 3: the TOC byte, the four framepacking codes, and the
// code 3 padding mechanism. No signal-level decoding happens here; frame
// durations come purely from the TOC configuration.
package opus

// TOC is the parsed table-of-contents byte from the start of an Opus packet.
type TOC struct {
	Config       uint8 // configuration index, 0..31
	Stereo       bool  // bit 2
	Framepacking uint8 // frame count code, 0..3
}

// frameSizes maps configuration indices to frame duration in 48kHz sample
// units (RFC 6716 section 3.1). SILK configs 0-11 cycle 10/20/40/60ms,
// hybrid configs 12-15 cycle 10/20ms, CELT configs 16-31 cycle
// 2.5/5/10/20ms. Toniebox audio only ever uses the CELT range.
var frameSizes = [32]uint64{
	480, 960, 1920, 2880, // SILK NB
	480, 960, 1920, 2880, // SILK MB
	480, 960, 1920, 2880, // SILK WB
	480, 960, // hybrid SWB
	480, 960, // hybrid FB
	120, 240, 480, 960, // CELT NB
	120, 240, 480, 960, // CELT WB
	120, 240, 480, 960, // CELT SWB
	120, 240, 480, 960, // CELT FB
}

// ParseTOC decodes a TOC byte.
func ParseTOC(b byte) TOC {
	return TOC{
		Config:       b >> 3,
		Stereo:       b&0x04 != 0,
		Framepacking: b & 0x03,
	}
}

// Byte re-encodes the TOC.
func (t TOC) Byte() byte {
	b := t.Config<<3 | t.Framepacking&0x03
	if t.Stereo {
		b |= 0x04
	}
	return b
}

// FrameSize returns the duration of one frame in 48kHz sample units.
func (t TOC) FrameSize() uint64 {
	return frameSizes[t.Config]
}

// PacketDuration returns the duration of a serialized packet in 48kHz
// sample units: frame count times per-frame duration. The frame count is
// 1 for code 0, 2 for codes 1 and 2, and the signalled count for code 3.
// A truncated code 3 packet counts as a single frame.
func PacketDuration(pkt []byte) uint64 {
	if len(pkt) == 0 {
		return 0
	}
	toc := ParseTOC(pkt[0])
	frames := uint64(1)
	switch toc.Framepacking {
	case 1, 2:
		frames = 2
	case 3:
		if len(pkt) >= 2 {
			frames = uint64(pkt[1] & 0x3F)
		}
	}
	return frames * toc.FrameSize()
}
