package safefetch

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader records the largest single read request it receives.
type countingReader struct {
	r       io.Reader
	maxRead int
	reads   int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	if len(p) > c.maxRead {
		c.maxRead = len(p)
	}
	return c.r.Read(p)
}

// endless never returns EOF.
type endless struct{}

func (endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'e'
	}
	return len(p), nil
}

func TestReadCapped(t *testing.T) {
	tests := []struct {
		name          string
		reader        func() io.Reader
		limit         int64
		contentLength int64
		wantLen       int
		wantTruncated bool
	}{
		{
			name:          "empty body",
			reader:        func() io.Reader { return strings.NewReader("") },
			limit:         100,
			contentLength: -1,
		},
		{
			name:          "short body",
			reader:        func() io.Reader { return strings.NewReader("hello") },
			limit:         100,
			contentLength: -1,
			wantLen:       5,
		},
		{
			name:          "body equal to limit without length",
			reader:        func() io.Reader { return strings.NewReader(strings.Repeat("a", 100)) },
			limit:         100,
			contentLength: -1,
			wantLen:       100,
		},
		{
			name:          "body equal to limit with length",
			reader:        func() io.Reader { return strings.NewReader(strings.Repeat("a", 100)) },
			limit:         100,
			contentLength: 100,
			wantLen:       100,
		},
		{
			name:          "body over limit without length",
			reader:        func() io.Reader { return strings.NewReader(strings.Repeat("a", 101)) },
			limit:         100,
			contentLength: -1,
			wantLen:       100,
			wantTruncated: true,
		},
		{
			name:          "understated content length",
			reader:        func() io.Reader { return strings.NewReader(strings.Repeat("a", 50_000)) },
			limit:         20_000,
			contentLength: 10,
			wantLen:       20_000,
			wantTruncated: true,
		},
		{
			name:          "overstated content length",
			reader:        func() io.Reader { return strings.NewReader("tiny") },
			limit:         20_000,
			contentLength: 1 << 30,
			wantLen:       4,
		},
		{
			name:          "endless body",
			reader:        func() io.Reader { return endless{} },
			limit:         64 * 1024,
			contentLength: -1,
			wantLen:       64 * 1024,
			wantTruncated: true,
		},
		{
			name:          "one byte reads",
			reader:        func() io.Reader { return iotest.OneByteReader(strings.NewReader(strings.Repeat("b", 300))) },
			limit:         200,
			contentLength: -1,
			wantLen:       200,
			wantTruncated: true,
		},
		{
			name:          "data with EOF",
			reader:        func() io.Reader { return iotest.DataErrReader(strings.NewReader("final chunk")) },
			limit:         100,
			contentLength: -1,
			wantLen:       11,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, truncated, err := readCapped(tt.reader(), tt.limit, tt.contentLength)
			require.NoError(t, err)
			assert.Len(t, body, tt.wantLen)
			assert.Equal(t, tt.wantTruncated, truncated)
		})
	}
}

func TestReadCapped_UsesBoundedChunks(t *testing.T) {
	r := &countingReader{r: strings.NewReader(strings.Repeat("c", 100_000))}

	body, truncated, err := readCapped(r, 50_000, -1)
	require.NoError(t, err)

	assert.Len(t, body, 50_000)
	assert.True(t, truncated)
	assert.LessOrEqual(t, r.maxRead, readChunkSize)
}

func TestReadCapped_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(boom))

	_, _, err := readCapped(r, 1000, -1)
	require.ErrorIs(t, err, boom)
}

func TestDrainAndClose(t *testing.T) {
	rc := &closeRecorder{Reader: bytes.NewReader(bytes.Repeat([]byte("d"), 1<<20))}
	drainAndClose(rc)

	assert.True(t, rc.closed)
	assert.Equal(t, int64(redirectDrainBytes), rc.read)
}

func TestCappedStream(t *testing.T) {
	rc := &closeRecorder{Reader: strings.NewReader(strings.Repeat("s", 50_000))}
	released := 0
	s := newCappedStream(rc, 12_345, func() { released++ })

	buf := make([]byte, 32*1024)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, readChunkSize)

	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, 12_345, n+len(rest))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, rc.closed)
	assert.Equal(t, 1, released)
}

type closeRecorder struct {
	io.Reader
	read   int64
	closed bool
}

func (c *closeRecorder) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	c.read += int64(n)
	return n, err
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}
