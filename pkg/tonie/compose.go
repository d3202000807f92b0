// toniecraft - page-accurate audio container tooling for Toniebox figurines.
// Copyright (C) 2026 the toniecraft contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package tonie

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Compose writes a complete tonie file containing the given chapters in
// the given order. The header slot is written as a zero placeholder
// first, the payload is streamed and hashed, then the real header is
// backfilled over the placeholder with the fresh hash, length and chapter
// index. Only the timestamp survives from the source header.
func Compose(ctx context.Context, a *Audio, w io.WriteSeeker, chapters []int) error {
	log := zerolog.Ctx(ctx)
	if len(a.Pages) < firstChapterPage {
		return fmt.Errorf("stream has no alignment page, nothing to compose")
	}
	for _, k := range chapters {
		if err := a.checkChapter(k); err != nil {
			return err
		}
	}

	// Header slot placeholder; backfilled once the payload hash is known.
	if _, err := w.Write(make([]byte, PageSize)); err != nil {
		return fmt.Errorf("writing header placeholder: %w", err)
	}

	digest := sha1.New()
	payload := io.MultiWriter(w, digest)
	written := 0

	emit := func(b []byte) error {
		n, err := payload.Write(b)
		written += n
		return err
	}

	// Three-page preamble: the two Opus headers plus the block-alignment
	// page, all byte-identical to the source.
	for i := 0; i < firstChapterPage; i++ {
		if err := emit(a.Pages[i].Serialize()); err != nil {
			return fmt.Errorf("writing preamble page %d: %w", i, err)
		}
	}

	granule := a.Pages[2].Duration()
	pageNo := uint32(firstChapterPage)
	starts := make([]uint32, 0, len(chapters))

	for ci, k := range chapters {
		starts = append(starts, pageNo)
		lo, hi := a.chapterSpan(k)
		log.Debug().Int("chapter", k).Int("pages", hi-lo).Msg("Copying chapter")
		for i := lo; i < hi; i++ {
			page := a.Pages[i]
			granule += page.Duration()
			isLast := ci == len(chapters)-1 && i == hi-1
			if err := emit(page.SerializeWith(isLast, granule, pageNo)); err != nil {
				return fmt.Errorf("writing page %d: %w", pageNo, err)
			}
			pageNo++
		}
	}

	hdr := &Header{
		DataHash:     digest.Sum(nil),
		DataLength:   uint32(written),
		Timestamp:    a.Timestamp,
		ChapterPages: starts,
	}
	frame, err := hdr.EncodeFrame()
	if err != nil {
		return err
	}
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to header slot: %w", err)
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("backfilling header: %w", err)
	}
	log.Info().
		Int("chapters", len(chapters)).
		Uint32("pages", pageNo).
		Int("payload_bytes", written).
		Msg("Composed tonie file")
	return nil
}

// ExportChapter writes one chapter as a plain Ogg Opus file: the two Opus
// header pages verbatim, then the chapter's pages renumbered from the top
// of the stream. Chapter 0 keeps the source's block-alignment page as its
// third page so the exported durations add up to the source duration.
func ExportChapter(ctx context.Context, a *Audio, w io.Writer, k int) error {
	log := zerolog.Ctx(ctx)
	if err := a.checkChapter(k); err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		if _, err := w.Write(a.Pages[i].Serialize()); err != nil {
			return fmt.Errorf("writing header page %d: %w", i, err)
		}
	}

	var granule uint64
	pageNo := uint32(2)
	if k == 0 {
		if _, err := w.Write(a.Pages[2].Serialize()); err != nil {
			return fmt.Errorf("writing alignment page: %w", err)
		}
		granule = a.Pages[2].Duration()
		pageNo = 3
	}

	lo, hi := a.chapterSpan(k)
	for i := lo; i < hi; i++ {
		page := a.Pages[i]
		granule += page.Duration()
		isLast := i == hi-1
		if _, err := w.Write(page.SerializeWith(isLast, granule, pageNo)); err != nil {
			return fmt.Errorf("writing page %d: %w", pageNo, err)
		}
		pageNo++
	}
	log.Debug().Int("chapter", k).Int("pages", hi-lo).Msg("Exported chapter")
	return nil
}
