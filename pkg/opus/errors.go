package opus

import "errors"

// ErrUnsupportedOpus indicates a packet shape this tool does not handle:
// a code 2 packet whose first frame length needs a two-byte encoding, or
// a request to pad a packet that already carries padding.
var ErrUnsupportedOpus = errors.New("opus: unsupported packet shape")
