package ogg

import "errors"

// ErrMalformedOgg indicates the byte stream is not a well-formed single
// logical Ogg stream: missing "OggS" capture pattern, truncated header or
// payload, or a page sequence number that does not match its position.
var ErrMalformedOgg = errors.New("ogg: malformed page structure")
