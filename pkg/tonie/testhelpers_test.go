package tonie

import (
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toniecraft/toniecraft/pkg/ogg"
	"github.com/toniecraft/toniecraft/pkg/opus"
)

const testTOC = byte(19 << 3) // CELT NB 20ms, code 0

func testCtx() context.Context {
	return context.Background()
}

// testPackets builds deterministic code 0 audio packets.
func testPackets(count, size int) [][]byte {
	packets := make([][]byte, count)
	for i := range packets {
		pkt := make([]byte, size)
		pkt[0] = testTOC
		for j := 1; j < size; j++ {
			pkt[j] = byte(i*7 + j)
		}
		packets[i] = pkt
	}
	return packets
}

func packetsDuration(packets [][]byte) uint64 {
	var total uint64
	for _, pkt := range packets {
		total += opus.PacketDuration(pkt)
	}
	return total
}

func opusHead() []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = 1 // channels
	binary.LittleEndian.PutUint16(head[10:12], 312)   // pre-skip
	binary.LittleEndian.PutUint32(head[12:16], 48000) // input sample rate
	return head
}

func opusTags() []byte {
	vendor := "toniecraft-test"
	tags := append([]byte("OpusTags"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(tags[8:12], uint32(len(vendor)))
	tags = append(tags, vendor...)
	return append(tags, 0, 0, 0, 0) // no comments
}

// makeOpusStream serializes a plain Ogg Opus file: two header pages, then
// the packets spread over audio pages with no particular size alignment.
func makeOpusStream(t *testing.T, serial uint32, packets [][]byte) []byte {
	t.Helper()
	var out []byte
	pageNo := uint32(0)
	appendPage := func(page *ogg.Page) {
		page.Header.PageNo = pageNo
		pageNo++
		page.UpdateChecksum()
		out = append(out, page.Serialize()...)
	}

	appendPage(&ogg.Page{
		Header:   ogg.PageHeader{Type: ogg.FlagBOS, SerialNo: serial},
		Segments: ogg.SegmentPacket(opusHead()),
	})
	appendPage(&ogg.Page{
		Header:   ogg.PageHeader{SerialNo: serial},
		Segments: ogg.SegmentPacket(opusTags()),
	})

	var granule uint64
	const perPage = 25
	for i := 0; i < len(packets); i += perPage {
		end := i + perPage
		if end > len(packets) {
			end = len(packets)
		}
		page := &ogg.Page{Header: ogg.PageHeader{SerialNo: serial}}
		for _, pkt := range packets[i:end] {
			page.Segments = append(page.Segments, ogg.SegmentPacket(pkt)...)
			granule += opus.PacketDuration(pkt)
		}
		page.Header.GranulePos = granule
		if end == len(packets) {
			page.Header.Type = ogg.FlagEOS
		}
		appendPage(page)
	}
	return out
}

// seedAudio builds an Audio holding only the two Opus header pages, the
// state swap starts from before appending chapters.
func seedAudio(t *testing.T, timestamp uint32) *Audio {
	t.Helper()
	head := &ogg.Page{
		Header:   ogg.PageHeader{Type: ogg.FlagBOS, SerialNo: timestamp, PageNo: 0},
		Segments: ogg.SegmentPacket(opusHead()),
	}
	head.UpdateChecksum()
	tags := &ogg.Page{
		Header:   ogg.PageHeader{SerialNo: timestamp, PageNo: 1},
		Segments: ogg.SegmentPacket(opusTags()),
	}
	tags.UpdateChecksum()
	return &Audio{Timestamp: timestamp, Pages: []*ogg.Page{head, tags}}
}

// buildTonie composes a two-chapter tonie file from scratch and returns
// its bytes plus the raw packets of each chapter.
func buildTonie(t *testing.T, timestamp uint32) (data []byte, chapterA, chapterB [][]byte) {
	t.Helper()
	chapterA = testPackets(60, 120)
	chapterB = testPackets(45, 201)

	audio := seedAudio(t, timestamp)
	_, err := audio.AppendChapter(testCtx(), readerOf(makeOpusStream(t, 7, chapterA)))
	require.NoError(t, err)
	_, err = audio.AppendChapter(testCtx(), readerOf(makeOpusStream(t, 8, chapterB)))
	require.NoError(t, err)

	var out memFile
	require.NoError(t, Compose(testCtx(), audio, &out, []int{0, 1}))
	return out.Bytes(), chapterA, chapterB
}

func readerOf(b []byte) io.Reader {
	return &sliceReader{data: b}
}

// sliceReader is a minimal io.Reader so tests exercise the stream path
// rather than handing parsers a ready-made bytes.Reader.
type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// memFile is an in-memory io.WriteSeeker standing in for the output file.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		m.buf = append(m.buf, make([]byte, need-len(m.buf))...)
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = int(offset)
	case io.SeekCurrent:
		m.pos += int(offset)
	case io.SeekEnd:
		m.pos = len(m.buf) + int(offset)
	}
	return int64(m.pos), nil
}

func (m *memFile) Bytes() []byte {
	return m.buf
}
