package sane

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Parameters reads the current frame parameters of the device.
func (d *Device) Parameters() (Parameters, error) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if !d.opened {
		return Parameters{}, preconditionf("device %q is not open", d.name)
	}
	return d.readParameters()
}

// readParameters issues GET_PARAMETERS. Called with the session lock
// held.
func (d *Device) readParameters() (Parameters, error) {
	s := d.session
	s.deadline()
	if err := s.w.word(Word(OpGetParameters)); err != nil {
		return Parameters{}, err
	}
	if err := s.w.word(d.handle); err != nil {
		return Parameters{}, err
	}
	if err := s.w.flush(); err != nil {
		return Parameters{}, err
	}
	status, err := s.r.status()
	if err != nil {
		return Parameters{}, err
	}
	params, err := s.r.parameters()
	if err != nil {
		return Parameters{}, err
	}
	if status != StatusGood {
		return Parameters{}, &StatusError{Op: "get parameters", Status: status}
	}
	return params, nil
}

// startScan issues START and returns the data port and the byte order of
// the coming frame. The daemon may demand authorization before the
// reply completes.
func (d *Device) startScan() (port int, bigEndian bool, err error) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if !d.opened {
		return 0, false, preconditionf("device %q is not open", d.name)
	}
	s.deadline()

	if err := s.w.word(Word(OpStart)); err != nil {
		return 0, false, err
	}
	if err := s.w.word(d.handle); err != nil {
		return 0, false, err
	}
	if err := s.w.flush(); err != nil {
		return 0, false, err
	}

	for {
		status, err := s.r.status()
		if err != nil {
			return 0, false, err
		}
		portWord, err := s.r.word()
		if err != nil {
			return 0, false, err
		}
		byteOrder, err := s.r.word()
		if err != nil {
			return 0, false, err
		}
		resource, err := s.r.str()
		if err != nil {
			return 0, false, err
		}
		if resource != "" {
			if err := s.authorize(resource); err != nil {
				return 0, false, err
			}
			continue
		}
		if status != StatusGood {
			return 0, false, &StatusError{Op: "start", Status: status}
		}
		return int(portWord.Int()), byteOrder == byteOrderBig, nil
	}
}

// AcquireImage runs one acquisition: repeated START / data-socket /
// GET_PARAMETERS / frame-read rounds until the backend announces the
// last frame, assembled into a single image. The listener may be nil.
func (d *Device) AcquireImage(listener ScanListener) (*Image, error) {
	if listener == nil {
		listener = NopListener{}
	}
	s := d.session
	s.mu.Lock()
	opened := d.opened
	s.mu.Unlock()
	if !opened {
		return nil, preconditionf("device %q is not open", d.name)
	}

	listener.ScanningStarted(d)
	assembler := &imageAssembler{}
	for frameIndex := 0; ; frameIndex++ {
		port, bigEndian, err := d.startScan()
		if err != nil {
			return nil, err
		}
		frame, err := d.acquireFrame(port, bigEndian, frameIndex, listener)
		if err != nil {
			return nil, err
		}
		if err := assembler.add(frame); err != nil {
			return nil, err
		}
		if frame.params.LastFrame {
			break
		}
	}
	listener.ScanningFinished(d)

	image, err := assembler.build()
	if err != nil {
		return nil, err
	}
	slog.Debug("acquisition complete", "device", d.name, "image", image)
	return image, nil
}

// acquireFrame opens the auxiliary data socket, reads the frame
// parameters over the control socket, and drains one frame. The data
// socket is closed on every path.
func (d *Device) acquireFrame(port int, bigEndian bool, frameIndex int, listener ScanListener) (*Frame, error) {
	s := d.session
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect data socket %s: %w", addr, err)
	}
	defer conn.Close()
	slog.Debug("data socket open", "addr", addr, "frame", frameIndex)

	s.mu.Lock()
	params, err := d.readParameters()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	listener.FrameAcquisitionStarted(d, params, frameIndex, likelyFrames(params))

	fr := &frameReader{
		params:    params,
		r:         &deadlineConn{Conn: conn, timeout: s.timeout},
		bigEndian: bigEndian,
		notify: func(total, expected int) {
			listener.RecordRead(d, total, expected)
		},
	}
	return fr.read()
}

// likelyFrames estimates the total frame count of the acquisition from
// the first frame's type: three for single-channel passes, one
// otherwise.
func likelyFrames(p Parameters) int {
	switch p.Frame {
	case FrameRed, FrameGreen, FrameBlue:
		return 3
	default:
		return 1
	}
}

// deadlineConn refreshes the read deadline before every read so a
// stalled backend cannot block an acquisition forever.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}
