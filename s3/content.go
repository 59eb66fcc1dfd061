package s3

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
)

// ContentSource is a producer of request body bytes. The four variants are
// BytesSource (a fixed buffer), GeneratorSource (a pull generator),
// DeferredSource (a value resolved later, possibly to another deferred), and
// PartSource (a generator with its own declared length, yielded by a
// PartsFunc one per multipart part).
type ContentSource interface {
	isSource()
}

// BytesSource is fixed content. If longer than the declared length it is
// truncated; if shorter, the remainder is zero-padded.
type BytesSource []byte

func (BytesSource) isSource() {}

// GeneratorFunc produces the next chunk of content. pos is the number of
// bytes the generator has produced so far, max the most the caller will
// accept. A nil or empty return means no more data. Generators must be
// restartable from position zero: a retry re-drains the source from the
// start.
type GeneratorFunc func(pos int64, max int) ([]byte, error)

// GeneratorSource is content pulled from a generator.
type GeneratorSource GeneratorFunc

func (GeneratorSource) isSource() {}

// DeferredSource defers producing the source until the upload needs it.
// Resolution recurses until a non-deferred variant is reached.
type DeferredSource func(ctx context.Context) (ContentSource, error)

func (DeferredSource) isSource() {}

// PartSource pairs a generator with the declared length of one part.
type PartSource struct {
	Length int64
	Gen    GeneratorFunc
}

func (PartSource) isSource() {}

// PartsFunc yields successive upload parts. A nil source means no more
// parts. Parts are requested strictly one at a time: the next part is not
// generated until the previous part has fully settled.
type PartsFunc func(ctx context.Context) (ContentSource, error)

// resolveSource unwraps DeferredSource values until a concrete variant is
// reached.
func resolveSource(ctx context.Context, src ContentSource) (ContentSource, error) {
	for {
		d, ok := src.(DeferredSource)
		if !ok {
			return src, nil
		}
		next, err := d(ctx)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, &ProtocolError{Op: "resolve content source", Field: "deferred value"}
		}
		src = next
	}
}

// checksumReader drains a ContentSource in bounded reads, emitting exactly
// the declared length: a source that under-produces is zero-padded, one that
// over-produces is truncated at the declared boundary. Every byte emitted,
// padding included, feeds a running MD5. One instance belongs to exactly one
// upload attempt; retries create a fresh one.
type checksumReader struct {
	gen      GeneratorFunc // nil for fixed content
	fixed    []byte
	length   int64
	readSize int

	emitted   int64 // bytes handed to the consumer (and hashed)
	produced  int64 // bytes pulled from the generator
	pending   []byte
	exhausted bool
	hash      hash.Hash
}

// newChecksumReader resolves src and prepares it for draining at the given
// declared length and bounded read size.
func newChecksumReader(ctx context.Context, src ContentSource, length int64, readSize int) (*checksumReader, error) {
	if readSize <= 0 {
		readSize = 64 * 1024
	}

	r := &checksumReader{
		length:   length,
		readSize: readSize,
		hash:     md5.New(),
	}

	if src == nil {
		r.exhausted = true
		return r, nil
	}

	resolved, err := resolveSource(ctx, src)
	if err != nil {
		return nil, err
	}

	switch s := resolved.(type) {
	case BytesSource:
		r.fixed = s
	case GeneratorSource:
		r.gen = GeneratorFunc(s)
	case PartSource:
		r.gen = s.Gen
	default:
		return nil, &ProtocolError{Op: "resolve content source", Field: "known source variant"}
	}

	return r, nil
}

func (r *checksumReader) Read(p []byte) (int, error) {
	if r.emitted >= r.length {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if len(r.pending) == 0 && !r.exhausted {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}

	max := len(p)
	if max > r.readSize {
		max = r.readSize
	}
	if remaining := r.length - r.emitted; int64(max) > remaining {
		max = int(remaining)
	}

	var n int
	if len(r.pending) > 0 {
		n = copy(p[:max], r.pending)
		r.pending = r.pending[n:]
	} else {
		// Source under-produced: fabricate zero bytes for the remainder.
		clear(p[:max])
		n = max
	}

	r.hash.Write(p[:n])
	r.emitted += int64(n)

	return n, nil
}

// fill pulls the next chunk from the source into the pending buffer.
func (r *checksumReader) fill() error {
	if r.gen == nil {
		// Fixed content is a single terminal emission, no further pull.
		r.pending = r.fixed
		r.fixed = nil
		r.exhausted = true
		return nil
	}

	max := r.readSize
	if remaining := r.length - r.produced; int64(max) > remaining {
		max = int(remaining)
	}

	chunk, err := r.gen(r.produced, max)
	if err != nil {
		return err
	}
	if len(chunk) == 0 {
		r.exhausted = true
		return nil
	}

	// Over-production is silently truncated at the declared boundary.
	if over := int64(len(chunk)) - (r.length - r.produced); over > 0 {
		chunk = chunk[:int64(len(chunk))-over]
	}

	r.produced += int64(len(chunk))
	r.pending = chunk

	return nil
}

// SumHex returns the lowercase hex MD5 over every byte emitted so far.
func (r *checksumReader) SumHex() string {
	return hex.EncodeToString(r.hash.Sum(nil))
}

// BytesEmitted returns the number of body bytes handed to the transport.
func (r *checksumReader) BytesEmitted() int64 {
	return r.emitted
}
