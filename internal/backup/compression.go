package backup

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType names an artifact codec
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeZstd CompressionType = "zstd"
	CompressionTypeLZ4  CompressionType = "lz4"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ParseCompressionType maps a config value to a codec. Empty means gzip.
func ParseCompressionType(s string) (CompressionType, error) {
	switch CompressionType(strings.ToLower(strings.TrimSpace(s))) {
	case "", CompressionTypeGzip:
		return CompressionTypeGzip, nil
	case CompressionTypeZstd:
		return CompressionTypeZstd, nil
	case CompressionTypeLZ4:
		return CompressionTypeLZ4, nil
	case CompressionTypeNone:
		return CompressionTypeNone, nil
	}
	return "", NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", s), nil)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewCompressWriter wraps w with the encoder for algorithm. Close flushes the encoder
// but not w.
func NewCompressWriter(w io.Writer, algorithm CompressionType) (io.WriteCloser, error) {
	switch algorithm {
	case CompressionTypeGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case CompressionTypeZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, NewCompressionError("failed to create zstd writer", err)
		}
		return enc, nil
	case CompressionTypeLZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return nil, NewCompressionError("failed to configure lz4 writer", err)
		}
		return lw, nil
	case CompressionTypeNone:
		return nopWriteCloser{w}, nil
	}
	return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
}

type decodedReader struct {
	io.Reader
	close func() error
}

func (d *decodedReader) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

// NewDecompressReader sniffs the stream's magic bytes and returns a decoded reader.
// Streams without a known magic are returned as-is.
func NewDecompressReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	magic, _ := br.Peek(4)

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, NewCompressionError("failed to create gzip reader", err)
		}
		return gr, nil
	case bytes.HasPrefix(magic, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, NewCompressionError("failed to create zstd reader", err)
		}
		return &decodedReader{Reader: dec, close: func() error { dec.Close(); return nil }}, nil
	case bytes.HasPrefix(magic, lz4Magic):
		return &decodedReader{Reader: lz4.NewReader(br)}, nil
	}
	return &decodedReader{Reader: br}, nil
}

// OpenDecoded opens path and decodes it according to its content.
func OpenDecoded(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rc, err := NewDecompressReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &decodedReader{Reader: rc, close: func() error {
		rc.Close()
		return f.Close()
	}}, nil
}

// CompressFile streams src into dst with algorithm. dst is removed on failure.
func CompressFile(src, dst string, algorithm CompressionType) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return NewCompressionError("failed to open dump for compression", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return NewCompressionError("failed to create artifact", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = NewCompressionError("failed to close artifact", cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	w, err := NewCompressWriter(out, algorithm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return NewCompressionError(fmt.Sprintf("failed to compress with %s", algorithm), err)
	}
	if err := w.Close(); err != nil {
		return NewCompressionError(fmt.Sprintf("failed to finish %s stream", algorithm), err)
	}
	return nil
}

// DecompressFile decodes src into dst.
func DecompressFile(src, dst string) (err error) {
	in, err := OpenDecoded(src)
	if err != nil {
		return NewCompressionError("failed to open artifact", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return NewCompressionError("failed to create decompressed file", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return NewCompressionError("failed to decompress artifact", err)
	}
	return nil
}
