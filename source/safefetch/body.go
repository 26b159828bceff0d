package safefetch

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// readChunkSize is how much is pulled from the connection per read.
const readChunkSize = 8 * 1024

// redirectDrainBytes is how much of a redirect body is read before closing,
// enough to let small bodies keep the connection reusable.
const redirectDrainBytes = 4 * 1024

// readCapped reads at most limit bytes from r in fixed-size chunks. The
// declared Content-Length is never trusted to bound the read. truncated is
// true when the body had more than limit bytes.
func readCapped(r io.Reader, limit int64, contentLength int64) (body []byte, truncated bool, err error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)

	for int64(buf.Len()) < limit {
		want := limit - int64(buf.Len())
		if want > int64(len(chunk)) {
			want = int64(len(chunk))
		}
		n, readErr := r.Read(chunk[:want])
		buf.Write(chunk[:n])
		if errors.Is(readErr, io.EOF) {
			return buf.Bytes(), false, nil
		}
		if readErr != nil {
			return nil, false, readErr
		}
	}

	// The cap was hit. A declared length beyond it settles the question
	// without touching the connection again.
	if contentLength > limit {
		return buf.Bytes(), true, nil
	}
	var probe [1]byte
	n, probeErr := io.ReadAtLeast(r, probe[:], 1)
	if n > 0 {
		return buf.Bytes(), true, nil
	}
	if errors.Is(probeErr, io.EOF) {
		return buf.Bytes(), false, nil
	}
	// Unknown remainder: report as possibly truncated.
	return buf.Bytes(), true, nil
}

// drainAndClose discards a bounded prefix of body and closes it.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, redirectDrainBytes))
	_ = body.Close()
}

// cappedStream hands the caller a body that stops at limit bytes. Close
// releases the connection and the contexts that bound the fetch.
type cappedStream struct {
	body      io.ReadCloser
	remaining int64
	release   func()

	once     sync.Once
	closeErr error
}

func newCappedStream(body io.ReadCloser, limit int64, release func()) *cappedStream {
	return &cappedStream{body: body, remaining: limit, release: release}
}

func (s *cappedStream) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	if len(p) > readChunkSize {
		p = p[:readChunkSize]
	}
	n, err := s.body.Read(p)
	s.remaining -= int64(n)
	return n, err
}

func (s *cappedStream) Close() error {
	s.once.Do(func() {
		s.closeErr = s.body.Close()
		if s.release != nil {
			s.release()
		}
	})
	return s.closeErr
}
