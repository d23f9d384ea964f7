package vdb

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the codec applied to a serialized blob.  At most
// eight codecs fit the 3-bit field of the format byte.
type Compression uint8

const (
	Uncompressed Compression = iota
	Snappy
	Zstd
	Gzip
)

// Checksum selects the integrity check of a serialized blob.  At most four
// fit the 2-bit field of the format byte.
type Checksum uint8

const (
	NoChecksum Checksum = iota
	CRC32
)

type codec struct {
	name   string
	encode func([]byte) ([]byte, error)
	decode func([]byte) ([]byte, error)
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

var codecs = [...]codec{
	Uncompressed: {
		name:   "none",
		encode: func(b []byte) ([]byte, error) { return b, nil },
		decode: func(b []byte) ([]byte, error) { return b, nil },
	},
	Snappy: {
		name:   "snappy",
		encode: func(b []byte) ([]byte, error) { return snappy.Encode(nil, b), nil },
		decode: func(b []byte) ([]byte, error) { return snappy.Decode(nil, b) },
	},
	Zstd: {
		name:   "zstd",
		encode: func(b []byte) ([]byte, error) { return zstdEncoder.EncodeAll(b, nil), nil },
		decode: func(b []byte) ([]byte, error) { return zstdDecoder.DecodeAll(b, nil) },
	},
	Gzip: {
		name:   "gzip",
		encode: gzipEncode,
		decode: gzipDecode,
	},
}

func gzipEncode(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecode(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (compress Compression) valid() bool {
	return int(compress) < len(codecs)
}

func (compress Compression) String() string {
	if compress.valid() {
		return codecs[compress].name
	}
	return "unknown"
}

// ParseCompression converts a configuration string to a Compression.  An
// empty string means no compression.
func ParseCompression(s string) (Compression, error) {
	if s == "" {
		return Uncompressed, nil
	}
	for i, c := range codecs {
		if c.name == s {
			return Compression(i), nil
		}
	}
	return Uncompressed, NewError(ValueError, "unknown compression %q", s)
}

func (checksum Checksum) String() string {
	switch checksum {
	case NoChecksum:
		return "none"
	case CRC32:
		return "crc32"
	}
	return "unknown"
}

// ParseChecksum converts a configuration string to a Checksum.
func ParseChecksum(s string) (Checksum, error) {
	switch s {
	case "", "none":
		return NoChecksum, nil
	case "crc32":
		return CRC32, nil
	}
	return NoChecksum, NewError(ValueError, "unknown checksum %q", s)
}

// SerializationFormat is the leading byte of a serialized blob: compression
// in bits 5-7, checksum in bits 3-4.
type SerializationFormat uint8

func EncodeSerializationFormat(compress Compression, checksum Checksum) SerializationFormat {
	return SerializationFormat((uint8(compress)&0x07)<<5 | (uint8(checksum)&0x03)<<3)
}

func DecodeSerializationFormat(s SerializationFormat) (Compression, Checksum) {
	return Compression(uint8(s) >> 5), Checksum((uint8(s) >> 3) & 0x03)
}

// SerializeData returns the format byte, an optional little-endian CRC32 of
// the compressed payload, then the payload.
func SerializeData(data []byte, compress Compression, checksum Checksum) ([]byte, error) {
	if !compress.valid() {
		return nil, NewError(ValueError, "illegal compression (%d) during serialization", compress)
	}
	payload, err := codecs[compress].encode(data)
	if err != nil {
		return nil, WrapError(IoError, err, "%s compression", compress)
	}

	out := make([]byte, 1, 5+len(payload))
	out[0] = byte(EncodeSerializationFormat(compress, checksum))
	switch checksum {
	case NoChecksum:
	case CRC32:
		out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(payload))
	default:
		return nil, NewError(ValueError, "illegal checksum (%d) during serialization", checksum)
	}
	return append(out, payload...), nil
}

// DeserializeData verifies and optionally decompresses a blob written by
// SerializeData.  With uncompress false the still-compressed payload is
// returned.
func DeserializeData(s []byte, uncompress bool) ([]byte, Compression, error) {
	if len(s) == 0 {
		return nil, Uncompressed, NewError(IoError, "cannot deserialize empty data")
	}
	compress, checksum := DecodeSerializationFormat(SerializationFormat(s[0]))
	payload := s[1:]

	switch checksum {
	case NoChecksum:
	case CRC32:
		if len(payload) < 4 {
			return nil, compress, NewError(IoError, "truncated checksum in serialized data")
		}
		stored := binary.LittleEndian.Uint32(payload)
		payload = payload[4:]
		if got := crc32.ChecksumIEEE(payload); got != stored {
			return nil, compress, NewError(IoError, "bad checksum: stored %x, computed %x", stored, got)
		}
	default:
		return nil, compress, NewError(IoError, "illegal checksum (%d) in serialized data", checksum)
	}

	if !uncompress {
		return payload, compress, nil
	}
	if !compress.valid() {
		return nil, compress, NewError(NotImplementedError, "illegal compression format (%d) in deserialization", compress)
	}
	data, err := codecs[compress].decode(payload)
	if err != nil {
		return nil, compress, WrapError(IoError, err, "unable to uncompress %s data", compress)
	}
	return data, compress, nil
}
