// toniecraft - page-accurate audio container tooling for Toniebox figurines.
// Copyright (C) 2026 the toniecraft contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package tonie reads and writes the audio container used by Toniebox
// figurines: a 4096-byte protobuf header slot followed by an Ogg Opus
// stream whose audio pages each occupy exactly one 4096-byte block.
package tonie

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// PageSize is the physical block size of the device's SD card layout.
	// The header slot and every audio page occupy exactly one block.
	PageSize = 4096

	// headerRecordSize is the serialized header length: the slot minus the
	// four-byte big-endian length prefix.
	headerRecordSize = PageSize - 4
)

// Protobuf field numbers of the header record. The wire layout must match
// the device firmware exactly; chapterPages in particular is a packed
// repeated uint32.
const (
	fieldDataHash     = 1
	fieldDataLength   = 2
	fieldTimestamp    = 3
	fieldChapterPages = 4
	fieldPadding      = 5
)

// Header is the outer container record. Padding is not represented: the
// reader discards it and the writer computes it so the serialized record
// plus length prefix occupies exactly one block.
type Header struct {
	DataHash     []byte   // SHA-1 over everything after the header slot
	DataLength   uint32   // payload length (file size minus the slot)
	Timestamp    uint32   // creation time, doubles as the Ogg serial number
	ChapterPages []uint32 // payload page number at which each chapter starts
}

// ReadHeader consumes the complete header slot from r: the big-endian
// length prefix, the record, and any slack up to the slot boundary.
func ReadHeader(r io.Reader) (*Header, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: length prefix: %v", ErrHeaderDecode, err)
	}
	recordLen := int(prefix[0])<<24 | int(prefix[1])<<16 | int(prefix[2])<<8 | int(prefix[3])
	if recordLen > headerRecordSize {
		return nil, fmt.Errorf("%w: record length %d exceeds header slot", ErrHeaderDecode, recordLen)
	}
	record := make([]byte, recordLen)
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, fmt.Errorf("%w: truncated record: %v", ErrHeaderDecode, err)
	}
	if slack := headerRecordSize - recordLen; slack > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(slack)); err != nil {
			return nil, fmt.Errorf("%w: truncated header slot: %v", ErrHeaderDecode, err)
		}
	}
	return decodeHeader(record)
}

func decodeHeader(b []byte) (*Header, error) {
	h := &Header{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrHeaderDecode, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldDataHash:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: dataHash: %v", ErrHeaderDecode, protowire.ParseError(n))
			}
			h.DataHash = append([]byte(nil), v...)
			b = b[n:]
		case fieldDataLength, fieldTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrHeaderDecode, num, protowire.ParseError(n))
			}
			if num == fieldDataLength {
				h.DataLength = uint32(v)
			} else {
				h.Timestamp = uint32(v)
			}
			b = b[n:]
		case fieldChapterPages:
			switch typ {
			case protowire.BytesType:
				packed, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return nil, fmt.Errorf("%w: chapterPages: %v", ErrHeaderDecode, protowire.ParseError(n))
				}
				b = b[n:]
				for len(packed) > 0 {
					v, n := protowire.ConsumeVarint(packed)
					if n < 0 {
						return nil, fmt.Errorf("%w: chapterPages entry: %v", ErrHeaderDecode, protowire.ParseError(n))
					}
					h.ChapterPages = append(h.ChapterPages, uint32(v))
					packed = packed[n:]
				}
			case protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return nil, fmt.Errorf("%w: chapterPages: %v", ErrHeaderDecode, protowire.ParseError(n))
				}
				h.ChapterPages = append(h.ChapterPages, uint32(v))
				b = b[n:]
			default:
				return nil, fmt.Errorf("%w: chapterPages has wire type %d", ErrHeaderDecode, typ)
			}
		default:
			// Unknown fields and the padding blob are skipped.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrHeaderDecode, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return h, nil
}

// appendRecord serializes the header fields with a padding blob of the
// given size.
func (h *Header) appendRecord(b []byte, padding int) []byte {
	b = protowire.AppendTag(b, fieldDataHash, protowire.BytesType)
	b = protowire.AppendBytes(b, h.DataHash)
	b = protowire.AppendTag(b, fieldDataLength, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.DataLength))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Timestamp))
	if len(h.ChapterPages) > 0 {
		var packed []byte
		for _, p := range h.ChapterPages {
			packed = protowire.AppendVarint(packed, uint64(p))
		}
		b = protowire.AppendTag(b, fieldChapterPages, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = protowire.AppendTag(b, fieldPadding, protowire.BytesType)
	b = protowire.AppendBytes(b, make([]byte, padding))
	return b
}

// EncodeFrame serializes the complete header slot: length prefix plus
// record, padded to exactly one block. The padding size is found by
// serializing once with a 256-byte baseline, then resizing the blob by
// the measured shortfall; the 0x100 offset keeps the arithmetic stable
// while the padding field's own length prefix grows.
func (h *Header) EncodeFrame() ([]byte, error) {
	baseline := h.appendRecord(nil, 0x100)
	padding := headerRecordSize - len(baseline) + 0x100
	if padding < 0 {
		return nil, fmt.Errorf("tonie: header record overflows slot by %d bytes", -padding)
	}
	frame := make([]byte, 4, PageSize)
	frame[0] = byte(headerRecordSize >> 24)
	frame[1] = byte(headerRecordSize >> 16)
	frame[2] = byte(headerRecordSize >> 8)
	frame[3] = byte(headerRecordSize)
	frame = h.appendRecord(frame, padding)
	if len(frame) != PageSize {
		return nil, fmt.Errorf("tonie: header padding did not converge, frame is %d bytes", len(frame))
	}
	return frame, nil
}
