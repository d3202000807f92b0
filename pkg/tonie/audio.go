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
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/toniecraft/toniecraft/pkg/ogg"
)

// firstChapterPage is the payload page number where chapter content can
// begin. Pages 0 and 1 carry the Opus identification and comment headers;
// page 2 is the block-alignment page the device expects as the third
// preamble page, emitted ahead of whichever chapter comes first.
const firstChapterPage = 3

// Audio is a parsed tonie container: the source timestamp, every Ogg page
// in payload order, and the chapter start index. Pages are treated as
// immutable once parsed; compose operations relabel copies.
type Audio struct {
	Timestamp     uint32
	Pages         []*ogg.Page
	ChapterStarts []uint32
	Header        *Header // header as read from the source file, nil for built streams
	PayloadHash   []byte  // SHA-1 actually computed over the source payload
	PayloadLength int     // payload bytes actually read from the source
}

// Parse reads a complete tonie file: header slot, then the Ogg payload.
// The payload hash and the first page's serial number are checked against
// the header, but a mismatch only logs a warning, so damaged files can
// still be exported.
func Parse(ctx context.Context, r io.Reader) (*Audio, error) {
	log := zerolog.Ctx(ctx)

	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	digest := sha1.New()
	counter := &countingWriter{}
	pages, err := ogg.Parse(io.TeeReader(r, io.MultiWriter(digest, counter)))
	if err != nil {
		return nil, err
	}
	if len(pages) < firstChapterPage {
		return nil, fmt.Errorf("%w: stream has only %d pages", ogg.ErrMalformedOgg, len(pages))
	}

	sum := digest.Sum(nil)
	if !bytes.Equal(sum, hdr.DataHash) {
		log.Warn().
			Hex("stored", hdr.DataHash).
			Hex("computed", sum).
			Msg("Payload hash does not match header")
	}
	if serial := pages[0].Header.SerialNo; serial != hdr.Timestamp {
		log.Warn().
			Uint32("serial", serial).
			Uint32("timestamp", hdr.Timestamp).
			Msg("Stream serial number does not match header timestamp")
	}

	return &Audio{
		Timestamp:     hdr.Timestamp,
		Pages:         pages,
		ChapterStarts: append([]uint32(nil), hdr.ChapterPages...),
		Header:        hdr,
		PayloadHash:   sum,
		PayloadLength: counter.n,
	}, nil
}

// HashValid reports whether the source header's hash matched the payload.
func (a *Audio) HashValid() bool {
	return a.Header != nil && bytes.Equal(a.PayloadHash, a.Header.DataHash)
}

type countingWriter struct {
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += len(p)
	return len(p), nil
}

// ChapterCount returns the number of chapters in the index.
func (a *Audio) ChapterCount() int {
	return len(a.ChapterStarts)
}

// chapterSpan returns the half-open page range [lo, hi) holding chapter
// k's content. Starts below the first chapter page (device originals
// record chapter 0 at page 0) clamp forward past the preamble.
func (a *Audio) chapterSpan(k int) (lo, hi int) {
	lo = int(a.ChapterStarts[k])
	if lo < firstChapterPage {
		lo = firstChapterPage
	}
	hi = len(a.Pages)
	if k+1 < len(a.ChapterStarts) {
		if next := int(a.ChapterStarts[k+1]); next < hi {
			hi = next
		}
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// ChapterDuration sums chapter k's page durations in 48kHz sample units.
func (a *Audio) ChapterDuration(k int) uint64 {
	lo, hi := a.chapterSpan(k)
	var total uint64
	for i := lo; i < hi; i++ {
		total += a.Pages[i].Duration()
	}
	return total
}

// checkChapter validates an external 0-based chapter index.
func (a *Audio) checkChapter(k int) error {
	if k < 0 || k >= len(a.ChapterStarts) {
		return fmt.Errorf("chapter %d out of range, file has %d chapters", k, len(a.ChapterStarts))
	}
	return nil
}
