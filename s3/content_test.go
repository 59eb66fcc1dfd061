package s3

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func drainReader(t *testing.T, r *checksumReader) []byte {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err, "Draining the stream should not error")
	return data
}

func TestChecksumReaderFixedContent(t *testing.T) {
	ctx := context.Background()

	body := []byte("hello world")
	r, err := newChecksumReader(ctx, BytesSource(body), int64(len(body)), 64)
	require.NoError(t, err)

	got := drainReader(t, r)
	assert.Equal(t, body, got, "Fixed content should pass through unchanged")
	assert.Equal(t, int64(len(body)), r.BytesEmitted())
	assert.Equal(t, md5hex(body), r.SumHex(), "Digest should cover exactly the emitted bytes")
}

func TestChecksumReaderPadsUnderProduction(t *testing.T) {
	ctx := context.Background()

	// A source that stops after 9 bytes against a declared length of 30
	// must be padded with 21 zero bytes, digest included.
	short := []byte("Too short")
	gen := GeneratorSource(func(pos int64, max int) ([]byte, error) {
		if pos >= int64(len(short)) {
			return nil, nil
		}
		return short[pos:], nil
	})

	r, err := newChecksumReader(ctx, gen, 30, 64)
	require.NoError(t, err)

	got := drainReader(t, r)
	want := append(append([]byte{}, short...), make([]byte, 21)...)
	assert.Equal(t, want, got, "Remainder should be zero padded to the declared length")
	assert.Equal(t, int64(30), r.BytesEmitted())
	assert.Equal(t, md5hex(want), r.SumHex(), "Digest should include the padding")
}

func TestChecksumReaderTruncatesOverProduction(t *testing.T) {
	ctx := context.Background()

	long := []byte("This content is way longer than the declared.")
	require.Greater(t, len(long), 20)

	t.Run("Fixed", func(t *testing.T) {
		r, err := newChecksumReader(ctx, BytesSource(long), 20, 64)
		require.NoError(t, err)

		got := drainReader(t, r)
		assert.Equal(t, long[:20], got, "Fixed content should be cut at the declared length")
		assert.Equal(t, md5hex(long[:20]), r.SumHex())
	})

	t.Run("Generator", func(t *testing.T) {
		gen := GeneratorSource(func(pos int64, max int) ([]byte, error) {
			if pos > 0 {
				return nil, nil
			}
			// Ignores max and hands back everything at once.
			return long, nil
		})

		r, err := newChecksumReader(ctx, gen, 20, 64)
		require.NoError(t, err)

		got := drainReader(t, r)
		assert.Equal(t, long[:20], got, "Generator output should be cut at the declared length")
	})
}

func TestChecksumReaderBoundedReads(t *testing.T) {
	ctx := context.Background()

	body := []byte("abcdefghij")
	r, err := newChecksumReader(ctx, BytesSource(body), int64(len(body)), 4)
	require.NoError(t, err)

	var sizes []int
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sizes = append(sizes, n)
			assert.LessOrEqual(t, n, 4, "No single read should exceed the read size")
		}
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, []int{4, 4, 2}, sizes)
}

func TestChecksumReaderGeneratorPositions(t *testing.T) {
	ctx := context.Background()

	// Generator observes its own produced-byte position, bounded by max.
	var positions []int64
	gen := GeneratorSource(func(pos int64, max int) ([]byte, error) {
		positions = append(positions, pos)
		if pos >= 10 {
			return nil, nil
		}
		chunk := make([]byte, max)
		for i := range chunk {
			chunk[i] = byte('a' + pos)
		}
		return chunk, nil
	})

	r, err := newChecksumReader(ctx, gen, 10, 4)
	require.NoError(t, err)

	got := drainReader(t, r)
	assert.Len(t, got, 10)
	assert.Equal(t, []int64{0, 4, 8}, positions, "Positions should advance by produced bytes")
}

func TestChecksumReaderGeneratorError(t *testing.T) {
	ctx := context.Background()

	gen := GeneratorSource(func(pos int64, max int) ([]byte, error) {
		return nil, fmt.Errorf("backing store gone")
	})

	r, err := newChecksumReader(ctx, gen, 10, 64)
	require.NoError(t, err)

	_, err = io.ReadAll(r)
	assert.ErrorContains(t, err, "backing store gone")
}

func TestResolveSourceRecursesDeferred(t *testing.T) {
	ctx := context.Background()

	inner := DeferredSource(func(ctx context.Context) (ContentSource, error) {
		return BytesSource("resolved"), nil
	})
	outer := DeferredSource(func(ctx context.Context) (ContentSource, error) {
		return inner, nil
	})

	src, err := resolveSource(ctx, outer)
	require.NoError(t, err)
	assert.Equal(t, BytesSource("resolved"), src)
}

func TestResolveSourceNilDeferred(t *testing.T) {
	ctx := context.Background()

	src := DeferredSource(func(ctx context.Context) (ContentSource, error) {
		return nil, nil
	})

	_, err := resolveSource(ctx, src)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr, "A deferred resolving to nil is a protocol violation")
}

func TestChecksumReaderEmpty(t *testing.T) {
	ctx := context.Background()

	r, err := newChecksumReader(ctx, nil, 0, 64)
	require.NoError(t, err)

	got := drainReader(t, r)
	assert.Empty(t, got)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", r.SumHex(), "Empty stream should digest to the empty MD5")
}
