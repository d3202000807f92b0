// toniecraft - page-accurate audio container tooling for Toniebox figurines.
// Copyright (C) 2026 the toniecraft contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ogg

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Parse reads a complete single-logical-stream Ogg byte stream into pages.
// Parsing is strict: the capture pattern must open every page, and each
// page's sequence number must equal its zero-based position in the stream.
// There is no resync or recovery; the first malformed page aborts.
func Parse(r io.Reader) ([]*Page, error) {
	br := bufio.NewReader(r)
	var pages []*Page
	for {
		var capture [4]byte
		if _, err := io.ReadFull(br, capture[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return pages, nil // clean end of stream
			}
			return nil, fmt.Errorf("%w: truncated capture pattern", ErrMalformedOgg)
		}
		if string(capture[:]) != magic {
			return nil, fmt.Errorf("%w: bad capture pattern at page %d", ErrMalformedOgg, len(pages))
		}

		var raw [23]byte
		if _, err := io.ReadFull(br, raw[:]); err != nil {
			return nil, fmt.Errorf("%w: truncated page header", ErrMalformedOgg)
		}
		page := &Page{Header: PageHeader{
			Version:      raw[0],
			Type:         raw[1],
			GranulePos:   binary.LittleEndian.Uint64(raw[2:10]),
			SerialNo:     binary.LittleEndian.Uint32(raw[10:14]),
			PageNo:       binary.LittleEndian.Uint32(raw[14:18]),
			Checksum:     binary.LittleEndian.Uint32(raw[18:22]),
			SegmentCount: raw[22],
		}}
		if page.Header.PageNo != uint32(len(pages)) {
			return nil, fmt.Errorf("%w: page %d carries sequence number %d",
				ErrMalformedOgg, len(pages), page.Header.PageNo)
		}

		table := make([]byte, page.Header.SegmentCount)
		if _, err := io.ReadFull(br, table); err != nil {
			return nil, fmt.Errorf("%w: truncated segment table", ErrMalformedOgg)
		}
		page.Segments = make([][]byte, len(table))
		for i, segLen := range table {
			seg := make([]byte, segLen)
			if _, err := io.ReadFull(br, seg); err != nil {
				return nil, fmt.Errorf("%w: truncated segment data", ErrMalformedOgg)
			}
			page.Segments[i] = seg
		}
		pages = append(pages, page)
	}
}
