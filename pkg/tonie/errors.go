package tonie

import "errors"

// Package-level error values for container-level failures. Framing errors
// from the Ogg and Opus layers pass through unchanged.
var (
	// ErrHeaderDecode indicates the outer container header could not be
	// decoded: bad length prefix or malformed record.
	ErrHeaderDecode = errors.New("tonie: malformed container header")

	// ErrPacketTooLarge indicates a single Opus packet that cannot fit on
	// one page even alone.
	ErrPacketTooLarge = errors.New("tonie: opus packet exceeds page capacity")

	// ErrPadOverflow indicates page padding failed to converge on the
	// fixed block size.
	ErrPadOverflow = errors.New("tonie: could not pad page to block size")
)
