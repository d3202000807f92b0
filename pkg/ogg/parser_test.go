package ogg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStream(t *testing.T, pages ...*Page) []byte {
	t.Helper()
	var buf bytes.Buffer
	for i, page := range pages {
		page.Header.PageNo = uint32(i)
		page.UpdateChecksum()
		buf.Write(page.Serialize())
	}
	return buf.Bytes()
}

func streamPage(payload []byte) *Page {
	return &Page{
		Header:   PageHeader{SerialNo: 0xCAFE},
		Segments: SegmentPacket(payload),
	}
}

func TestParseRoundTrip(t *testing.T) {
	p0 := streamPage(bytes.Repeat([]byte{1}, 300))
	p1 := streamPage([]byte{9, 8, 7})
	raw := buildStream(t, p0, p1)

	pages, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, p0.Serialize(), pages[0].Serialize())
	assert.Equal(t, p1.Serialize(), pages[1].Serialize())
	assert.EqualValues(t, 0xCAFE, pages[0].Header.SerialNo)
	assert.EqualValues(t, 1, pages[1].Header.PageNo)
}

func TestParseEmptyStream(t *testing.T) {
	pages, err := Parse(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestParseBadMagic(t *testing.T) {
	raw := buildStream(t, streamPage([]byte{1, 2, 3}))
	raw[0] = 'X'
	_, err := Parse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrMalformedOgg)
}

func TestParseWrongPageNumber(t *testing.T) {
	p0 := streamPage([]byte{1})
	p1 := streamPage([]byte{2})
	raw := buildStream(t, p0, p1)

	// Overwrite the second page's sequence number; the parser must refuse
	// rather than renumber.
	off := len(p0.Serialize())
	raw[off+18] = 5
	_, err := Parse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrMalformedOgg)
}

func TestParseTruncated(t *testing.T) {
	raw := buildStream(t, streamPage(bytes.Repeat([]byte{3}, 100)))
	for _, cut := range []int{2, 10, 28, len(raw) - 1} {
		_, err := Parse(bytes.NewReader(raw[:cut]))
		assert.ErrorIs(t, err, ErrMalformedOgg, "cut at %d", cut)
	}
}
