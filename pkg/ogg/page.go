// toniecraft - page-accurate audio container tooling for Toniebox figurines.
// Copyright (C) 2026 the toniecraft contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package ogg implements byte-exact framing for single-logical-stream
// Ogg Opus files (RFC 3533 / RFC 7845): page parsing and serialization,
// the Ogg flavour of CRC-32, and duration accounting derived from the
// Opus TOC bytes carried in each page.
package ogg

import (
	"encoding/binary"

	"github.com/toniecraft/toniecraft/pkg/opus"
)

// Page header flag constants (RFC 3533 section 6).
const (
	// FlagContinuation marks a page whose first packet continues from the
	// previous page.
	FlagContinuation = 0x01

	// FlagBOS marks the first page of a logical bitstream.
	FlagBOS = 0x02

	// FlagEOS marks the last page of a logical bitstream.
	FlagEOS = 0x04
)

const (
	// HeaderSize is the fixed portion of a page header, including the
	// "OggS" capture pattern and the segment count byte.
	HeaderSize = 27

	// MaxSegments is the maximum number of segment table entries per page.
	MaxSegments = 255

	magic = "OggS"
)

// PageHeader holds the seven header fields that follow the capture pattern,
// in wire order.
type PageHeader struct {
	Version      byte
	Type         byte
	GranulePos   uint64
	SerialNo     uint32
	PageNo       uint32
	Checksum     uint32
	SegmentCount byte
}

// Page is a single Ogg page: a header and an ordered list of segments.
// Each segment is 0..255 bytes; a packet is a maximal run of segments
// terminated by one shorter than 255 bytes.
type Page struct {
	Header   PageHeader
	Segments [][]byte
}

// SegmentPacket splits a packet into 255-byte segments. A packet whose
// length is an exact multiple of 255 gets an empty terminator segment so
// the lacing values still mark the packet boundary.
func SegmentPacket(pkt []byte) [][]byte {
	var segs [][]byte
	for len(pkt) >= 255 {
		segs = append(segs, pkt[:255])
		pkt = pkt[255:]
	}
	return append(segs, pkt)
}

// Packets reassembles the page's segments into complete packets. A packet
// whose final segment is 255 bytes long continues on the next page and is
// returned as-is; callers that care about cross-page packets must stitch
// them together themselves.
func (p *Page) Packets() [][]byte {
	var packets [][]byte
	var current []byte
	for _, seg := range p.Segments {
		current = append(current, seg...)
		if len(seg) < 255 {
			packets = append(packets, current)
			current = nil
		}
	}
	if current != nil {
		packets = append(packets, current)
	}
	return packets
}

// Size returns the serialized page length without building the byte slice.
func (p *Page) Size() int {
	n := HeaderSize
	for _, seg := range p.Segments {
		n += 1 + len(seg)
	}
	return n
}

// Serialize renders the page: capture pattern, packed header, segment
// table, then the concatenated segments. The segment count is taken from
// len(p.Segments), not from the header field.
func (p *Page) Serialize() []byte {
	buf := make([]byte, 0, p.Size())
	buf = append(buf, magic...)
	buf = append(buf, p.Header.Version, p.Header.Type)
	buf = binary.LittleEndian.AppendUint64(buf, p.Header.GranulePos)
	buf = binary.LittleEndian.AppendUint32(buf, p.Header.SerialNo)
	buf = binary.LittleEndian.AppendUint32(buf, p.Header.PageNo)
	buf = binary.LittleEndian.AppendUint32(buf, p.Header.Checksum)
	buf = append(buf, byte(len(p.Segments)))
	for _, seg := range p.Segments {
		buf = append(buf, byte(len(seg)))
	}
	for _, seg := range p.Segments {
		buf = append(buf, seg...)
	}
	return buf
}

// UpdateChecksum recomputes the CRC field: the checksum is the Ogg CRC-32
// over the serialized page with the checksum bytes zeroed.
func (p *Page) UpdateChecksum() {
	p.Header.Checksum = 0
	p.Header.SegmentCount = byte(len(p.Segments))
	p.Header.Checksum = Checksum(p.Serialize())
}

// Duration sums the frame durations of every packet that begins on this
// page, in 48kHz sample units. Continued packets from a previous page are
// not counted here; the page their TOC byte lives on counts them.
func (p *Page) Duration() uint64 {
	var total uint64
	continued := p.Header.Type&FlagContinuation != 0
	for _, pkt := range p.Packets() {
		if continued {
			continued = false
			continue
		}
		if len(pkt) == 0 {
			continue
		}
		total += opus.PacketDuration(pkt)
	}
	return total
}

// SerializeWith renders a relabelled copy of the page: the type flags are
// replaced with EOS or nothing, granule position and page number are
// overwritten, and the checksum is recomputed. The receiver is not
// mutated.
func (p *Page) SerializeWith(isLast bool, granulePos uint64, pageNo uint32) []byte {
	clone := Page{Header: p.Header, Segments: p.Segments}
	if isLast {
		clone.Header.Type = FlagEOS
	} else {
		clone.Header.Type = 0
	}
	clone.Header.GranulePos = granulePos
	clone.Header.PageNo = pageNo
	clone.UpdateChecksum()
	return clone.Serialize()
}
