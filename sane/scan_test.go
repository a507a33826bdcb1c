package sane

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListener captures every callback for inspection.
type recordingListener struct {
	started  int
	finished int
	frames   []Parameters
	indices  []int
	totals   []int
	records  [][2]int
}

func (l *recordingListener) ScanningStarted(*Device) { l.started++ }

func (l *recordingListener) FrameAcquisitionStarted(_ *Device, p Parameters, frame, likelyTotal int) {
	l.frames = append(l.frames, p)
	l.indices = append(l.indices, frame)
	l.totals = append(l.totals, likelyTotal)
}

func (l *recordingListener) RecordRead(_ *Device, bytesRead, expected int) {
	l.records = append(l.records, [2]int{bytesRead, expected})
}

func (l *recordingListener) ScanningFinished(*Device) { l.finished++ }

// writeDataFrame serves one frame on the data socket: records, the
// end-of-records sentinel, then connection close.
func writeDataFrame(conn net.Conn, records ...[]byte) {
	var lenBuf [4]byte
	for _, r := range records {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r)))
		conn.Write(lenBuf[:])
		conn.Write(r)
	}
	binary.BigEndian.PutUint32(lenBuf[:], endOfRecords)
	conn.Write(lenBuf[:])
}

// serveStart consumes a START request and points the client at the data
// port.
func (sc *srvConn) serveStart(handle Word, dataPort int, byteOrder Word) {
	sc.expectOpcode(OpStart)
	sc.expectWord(handle, "start handle")
	sc.writeWords(Word(StatusGood), Word(uint32(dataPort)), byteOrder)
	sc.writeStr("")
	sc.flush()
}

// serveParameters consumes a GET_PARAMETERS request and replies with the
// given parameter block.
func (sc *srvConn) serveParameters(handle Word, p Parameters) {
	sc.expectOpcode(OpGetParameters)
	sc.expectWord(handle, "parameters handle")
	last := Word(0)
	if p.LastFrame {
		last = 1
	}
	sc.writeWords(Word(StatusGood), Word(p.Frame), last,
		Word(uint32(p.BytesPerLine)), Word(uint32(p.PixelsPerLine)),
		IntWord(int32(p.LineCount)), Word(uint32(p.Depth)))
	sc.flush()
}

// A single gray 8-bit frame of 100x10 pixels arrives in one record.
func TestAcquireImageGray(t *testing.T) {
	payload := bytes.Repeat([]byte{0x55}, 1000)
	data := startDataServer(t, 1, func(_ int, conn net.Conn) {
		writeDataFrame(conn, payload)
	})

	params := Parameters{
		Frame: FrameGray, LastFrame: true,
		BytesPerLine: 100, PixelsPerLine: 100, LineCount: 10, Depth: 8,
	}
	f := startFakeSaned(t, func(sc *srvConn) {
		sc.serveOpen("test", 7)
		sc.serveStart(7, data.port, byteOrderBig)
		sc.serveParameters(7, params)
	})
	s := f.open(t)
	d := s.Device("test")
	require.NoError(t, d.Open())

	listener := &recordingListener{}
	img, err := d.AcquireImage(listener)
	require.NoError(t, err)

	assert.Equal(t, 100, img.Width())
	assert.Equal(t, 10, img.Height())
	assert.Equal(t, 8, img.Depth())
	require.Len(t, img.Frames(), 1)
	assert.Equal(t, payload, img.Frames()[0].Bytes())

	assert.Equal(t, 1, listener.started)
	assert.Equal(t, 1, listener.finished)
	assert.Equal(t, []int{0}, listener.indices)
	assert.Equal(t, []int{1}, listener.totals)
	require.Len(t, listener.records, 1)
	assert.Equal(t, [2]int{1000, 1000}, listener.records[0])
	f.checkScript(t)
}

// A three-pass 16-bit scan with little-endian data: frames arrive
// green, red, blue, every buffer is byte-swapped in place, and the
// assembled image orders them red, green, blue.
func TestAcquireImageThreePass(t *testing.T) {
	const frameBytes = 16 // 4 pixels x 2 bytes x 2 lines
	order := []FrameType{FrameGreen, FrameRed, FrameBlue}
	payloads := map[FrameType][]byte{}
	for i, ft := range order {
		p := make([]byte, frameBytes)
		for j := range p {
			p[j] = byte(0x10*(i+1) + j)
		}
		payloads[ft] = p
	}

	data := startDataServer(t, 3, func(i int, conn net.Conn) {
		writeDataFrame(conn, payloads[order[i]])
	})

	f := startFakeSaned(t, func(sc *srvConn) {
		sc.serveOpen("test", 7)
		for i, ft := range order {
			sc.serveStart(7, data.port, byteOrderLittle)
			sc.serveParameters(7, Parameters{
				Frame: ft, LastFrame: i == len(order)-1,
				BytesPerLine: 8, PixelsPerLine: 4, LineCount: 2, Depth: 16,
			})
		}
	})
	s := f.open(t)
	d := s.Device("test")
	require.NoError(t, d.Open())

	listener := &recordingListener{}
	img, err := d.AcquireImage(listener)
	require.NoError(t, err)

	frames := img.Frames()
	require.Len(t, frames, 3)
	wantOrder := []FrameType{FrameRed, FrameGreen, FrameBlue}
	for i, frame := range frames {
		assert.Equal(t, wantOrder[i], frame.Parameters().Frame)
		// Little-endian samples were swapped pairwise.
		raw := payloads[wantOrder[i]]
		swapped := make([]byte, len(raw))
		for j := 0; j < len(raw); j += 2 {
			swapped[j], swapped[j+1] = raw[j+1], raw[j]
		}
		assert.Equal(t, swapped, frame.Bytes(), "frame %v", wantOrder[i])
	}

	// Single-channel passes announce a likely total of three frames.
	assert.Equal(t, []int{3, 3, 3}, listener.totals)
	assert.Equal(t, []int{0, 1, 2}, listener.indices)
	assert.Equal(t, 1, listener.started)
	assert.Equal(t, 1, listener.finished)
	f.checkScript(t)
}

// A hand-held scan with unknown height infers the line count from the
// received bytes.
func TestAcquireImageUnknownHeight(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAA}, 700)
	data := startDataServer(t, 1, func(_ int, conn net.Conn) {
		writeDataFrame(conn, payload[:300], payload[300:])
	})

	f := startFakeSaned(t, func(sc *srvConn) {
		sc.serveOpen("test", 7)
		sc.serveStart(7, data.port, byteOrderBig)
		sc.serveParameters(7, Parameters{
			Frame: FrameGray, LastFrame: true,
			BytesPerLine: 100, PixelsPerLine: 100, LineCount: -1, Depth: 8,
		})
	})
	s := f.open(t)
	d := s.Device("test")
	require.NoError(t, d.Open())

	listener := &recordingListener{}
	img, err := d.AcquireImage(listener)
	require.NoError(t, err)
	assert.Equal(t, 7, img.Height())

	// Unknown height surfaces as -1 in every notification.
	require.Len(t, listener.records, 2)
	assert.Equal(t, [2]int{300, -1}, listener.records[0])
	assert.Equal(t, [2]int{700, -1}, listener.records[1])
	f.checkScript(t)
}

func TestAcquireImageNoDocs(t *testing.T) {
	f := startFakeSaned(t, func(sc *srvConn) {
		sc.serveOpen("test", 7)
		sc.expectOpcode(OpStart)
		sc.word()
		sc.writeWords(Word(StatusNoDocs), 0, 0)
		sc.writeStr("")
		sc.flush()
	})
	s := f.open(t)
	d := s.Device("test")
	require.NoError(t, d.Open())

	_, err := d.AcquireImage(nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, StatusNoDocs, statusErr.Status)
	f.checkScript(t)
}

func TestAcquireImageNotOpen(t *testing.T) {
	f := startFakeSaned(t, nil)
	s := f.open(t)
	_, err := s.Device("test").AcquireImage(nil)
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
}

// START may demand authorization; the (status, port, byteOrder,
// resource) tuple is re-sent after the dance.
func TestAcquireImageStartAuthorization(t *testing.T) {
	payload := bytes.Repeat([]byte{1}, 100)
	data := startDataServer(t, 1, func(_ int, conn net.Conn) {
		writeDataFrame(conn, payload)
	})

	f := startFakeSaned(t, func(sc *srvConn) {
		sc.serveOpen("test", 7)
		sc.expectOpcode(OpStart)
		sc.word()
		sc.writeWords(Word(StatusGood), 0, 0)
		sc.writeStr("test")
		sc.flush()

		sc.expectOpcode(OpAuthorize)
		sc.str()
		sc.str()
		sc.str()
		sc.writeWords(0)
		sc.writeWords(Word(StatusGood), Word(uint32(data.port)), byteOrderBig)
		sc.writeStr("")
		sc.flush()

		sc.serveParameters(7, Parameters{
			Frame: FrameGray, LastFrame: true,
			BytesPerLine: 10, PixelsPerLine: 10, LineCount: 10, Depth: 8,
		})
	})
	s := f.open(t)
	s.SetPasswordProvider(FixedPasswordProvider("alice", "secret"))
	d := s.Device("test")
	require.NoError(t, d.Open())

	img, err := d.AcquireImage(nil)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Width())
	f.checkScript(t)
}
