// toniecraft - page-accurate audio container tooling for Toniebox figurines.
// Copyright (C) 2026 the toniecraft contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package tonie

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/toniecraft/toniecraft/pkg/ogg"
	"github.com/toniecraft/toniecraft/pkg/opus"
)

// maxPacketFootprint is the largest on-page footprint (segment table
// entries plus payload) a single packet may have: one full page minus the
// fixed header.
const maxPacketFootprint = PageSize - ogg.HeaderSize

// segmentPadReserve is segment table headroom kept free while filling a
// page. Padding the closing packets can add up to PageSize/255 rounded-up
// lacing entries, and a page that is full by segment count would have no
// room for them.
const segmentPadReserve = 20

// AppendChapter splices a foreign Ogg Opus stream into the container as a
// new chapter. The incoming packets are redistributed onto fresh pages on
// the block grid, continuing the existing page numbering and granule
// accounting. Returns the new chapter's 0-based index; the caller makes
// the chapter audible by composing with it included.
func (a *Audio) AppendChapter(ctx context.Context, r io.Reader) (int, error) {
	log := zerolog.Ctx(ctx)
	if len(a.Pages) < 2 {
		return 0, fmt.Errorf("destination stream is missing its Opus header pages")
	}

	pages, err := ogg.Parse(r)
	if err != nil {
		return 0, err
	}
	if len(pages) < 3 {
		return 0, fmt.Errorf("%w: opus stream has only %d pages", ogg.ErrMalformedOgg, len(pages))
	}
	if head := pages[0].Packets(); len(head) == 0 || !bytes.HasPrefix(head[0], []byte("OpusHead")) {
		return 0, fmt.Errorf("%w: stream does not start with an Opus identification header", ogg.ErrMalformedOgg)
	}

	packets := extractPackets(pages[2:])
	if len(packets) == 0 {
		return 0, fmt.Errorf("%w: stream carries no audio packets", ogg.ErrMalformedOgg)
	}

	granule := a.Pages[len(a.Pages)-1].Header.GranulePos
	newPages, err := repack(packets, a.Timestamp, uint32(len(a.Pages)), granule)
	if err != nil {
		return 0, err
	}
	log.Debug().
		Int("packets", len(packets)).
		Int("pages", len(newPages)).
		Msg("Repacked chapter onto block grid")

	start := uint32(len(a.Pages))
	a.Pages = append(a.Pages, newPages...)
	a.ChapterStarts = append(a.ChapterStarts, start)
	return len(a.ChapterStarts) - 1, nil
}

// extractPackets flattens audio pages into Opus packets, stitching
// packets that continue across page boundaries. Zero-length packets are
// lacing artifacts, not audio; they are dropped.
func extractPackets(pages []*ogg.Page) []*opus.Packet {
	var packets []*opus.Packet
	var current []byte
	for _, page := range pages {
		for _, seg := range page.Segments {
			current = append(current, seg...)
			if len(seg) < 255 {
				if len(current) > 0 {
					packets = append(packets, opus.NewPacket(current))
				}
				current = nil
			}
		}
	}
	if len(current) > 0 {
		packets = append(packets, opus.NewPacket(current))
	}
	return packets
}

// footprint is the number of page bytes a packet occupies: its segment
// table entries plus its payload.
func footprint(p *opus.Packet) int {
	return p.SegmentCount() + p.Len()
}

// repack distributes packets onto destination pages of exactly PageSize
// bytes. Pages fill greedily; whenever the next packet would overflow the
// block or the segment table, the working set is closed and padded up to
// the block boundary. The final page is padded and emitted too; the
// end-of-stream flag is compose's concern, not the repacker's.
func repack(packets []*opus.Packet, serial uint32, nextPage uint32, granule uint64) ([]*ogg.Page, error) {
	var out []*ogg.Page
	var working []*opus.Packet
	size := ogg.HeaderSize
	segments := 0

	flush := func() error {
		if len(working) == 0 {
			return nil
		}
		if err := padPage(working); err != nil {
			return err
		}
		page := pageFromPackets(working, serial)
		if len(page.Segments) > ogg.MaxSegments {
			return fmt.Errorf("%w: padding grew page %d to %d segments", ErrPadOverflow, nextPage, len(page.Segments))
		}
		granule += page.Duration()
		page.Header.GranulePos = granule
		page.Header.PageNo = nextPage
		page.UpdateChecksum()
		if got := page.Size(); got != PageSize {
			return fmt.Errorf("%w: page %d settled at %d bytes", ErrPadOverflow, nextPage, got)
		}
		nextPage++
		out = append(out, page)
		working = nil
		size = ogg.HeaderSize
		segments = 0
		return nil
	}

	for _, p := range packets {
		added := footprint(p)
		if added > maxPacketFootprint {
			return nil, fmt.Errorf("%w: packet needs %d bytes", ErrPacketTooLarge, added)
		}
		if size+added > PageSize || segments+p.SegmentCount() > ogg.MaxSegments-segmentPadReserve {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		working = append(working, p)
		size += added
		segments += p.SegmentCount()
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// pageFromPackets laces the packets onto a fresh page.
func pageFromPackets(packets []*opus.Packet, serial uint32) *ogg.Page {
	page := &ogg.Page{Header: ogg.PageHeader{SerialNo: serial}}
	for _, p := range packets {
		page.Segments = append(page.Segments, ogg.SegmentPacket(p.Bytes())...)
	}
	return page
}

// pageFootprint is the serialized size of a page holding the packets.
func pageFootprint(packets []*opus.Packet) int {
	size := ogg.HeaderSize
	for _, p := range packets {
		size += footprint(p)
	}
	return size
}

// padPage grows the working set's packets until the page serializes to
// exactly PageSize bytes. Conversion to framepacking code 3 is tried
// first on the last and second-to-last packets because it costs a single
// byte and no padding metadata; whatever is still missing becomes Opus
// padding on the last packet. A one-byte remainder cannot be expressed
// there (the pad-length byte itself is one byte), so it lands on the
// second-to-last packet as a bare zero pad-length byte.
func padPage(packets []*opus.Packet) error {
	missing := func() int { return PageSize - pageFootprint(packets) }
	if missing() == 0 {
		return nil
	}

	last := packets[len(packets)-1]
	var second *opus.Packet
	if len(packets) >= 2 {
		second = packets[len(packets)-2]
	}

	if err := last.ThreePack(); err != nil {
		return err
	}
	if missing() == 0 {
		return nil
	}
	if second != nil {
		if err := second.ThreePack(); err != nil {
			return err
		}
		if missing() == 0 {
			return nil
		}
	}

	switch m := missing(); {
	case m < 0:
		return fmt.Errorf("%w: page overshot block size by %d bytes", ErrPadOverflow, -m)
	case m == 1:
		if second == nil {
			return fmt.Errorf("%w: single-packet page is one byte short", ErrPadOverflow)
		}
		if err := second.Pad(0); err != nil {
			return err
		}
	default:
		if err := last.Pad(m); err != nil {
			return err
		}
		// Padding can come up one byte short when the packet tail sits
		// right at a segment boundary; the marker pad covers it.
		if second != nil && missing() == 1 && !second.Padded() {
			if err := second.Pad(0); err != nil {
				return err
			}
		}
	}

	if m := missing(); m != 0 {
		return fmt.Errorf("%w: %d bytes missing after padding", ErrPadOverflow, m)
	}
	return nil
}
