package modcomp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/colorfulnotion/jamjit/jiterrors"
)

// Cache artifact layout, little endian:
//
//	magic   [4]byte "JJIT"
//	version uint16
//	cpuLen  uint16
//	cpu     [cpuLen]byte
//	hash    uint64   FeatureHash(cpu)
//	bodyLen uint32
//	body    zstd(msgpack(Object))
const (
	artifactMagic   = "JJIT"
	artifactVersion = 1
	maxCPUName      = 64
)

// Header is the part of an artifact Check compares.
type Header struct {
	Version     uint16
	CPU         string
	FeatureHash uint64
	BodyLen     uint32
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		// DecodeAll is safe for concurrent use
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdEnc, zstdDec, zstdErr
}

// EncodeArtifact serializes obj for its CPU.
func EncodeArtifact(obj *Object) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	raw, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: encode: %w", obj.Module, err)
	}
	body := enc.EncodeAll(raw, nil)
	if len(obj.CPU) > maxCPUName {
		return nil, fmt.Errorf("artifact %s: cpu name %q too long", obj.Module, obj.CPU)
	}

	var buf bytes.Buffer
	buf.WriteString(artifactMagic)
	binary.Write(&buf, binary.LittleEndian, uint16(artifactVersion))
	binary.Write(&buf, binary.LittleEndian, uint16(len(obj.CPU)))
	buf.WriteString(obj.CPU)
	binary.Write(&buf, binary.LittleEndian, FeatureHash(obj.CPU))
	binary.Write(&buf, binary.LittleEndian, uint32(len(body)))
	buf.Write(body)
	return buf.Bytes(), nil
}

// ParseHeader decodes the header and returns it with the offset of the body.
func ParseHeader(b []byte) (Header, int, error) {
	malformed := func(what string) (Header, int, error) {
		return Header{}, 0, fmt.Errorf("artifact header: %s: %w", what, jiterrors.ErrMalformedObject)
	}
	if len(b) < 8 || string(b[:4]) != artifactMagic {
		return malformed("bad magic")
	}
	h := Header{Version: binary.LittleEndian.Uint16(b[4:])}
	if h.Version != artifactVersion {
		return malformed(fmt.Sprintf("version %d", h.Version))
	}
	n := int(binary.LittleEndian.Uint16(b[6:]))
	off := 8
	if n > maxCPUName || len(b) < off+n+12 {
		return malformed("truncated")
	}
	h.CPU = string(b[off : off+n])
	off += n
	h.FeatureHash = binary.LittleEndian.Uint64(b[off:])
	h.BodyLen = binary.LittleEndian.Uint32(b[off+8:])
	off += 12
	if uint64(len(b)-off) < uint64(h.BodyLen) {
		return malformed("truncated body")
	}
	return h, off, nil
}

// DecodeArtifact parses a whole artifact.
func DecodeArtifact(b []byte) (Header, *Object, error) {
	h, off, err := ParseHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	_, dec, err := codecs()
	if err != nil {
		return Header{}, nil, err
	}
	raw, err := dec.DecodeAll(b[off:off+int(h.BodyLen)], nil)
	if err != nil {
		return Header{}, nil, fmt.Errorf("artifact body: %w: %w", jiterrors.ErrMalformedObject, err)
	}
	obj := &Object{}
	if err := msgpack.Unmarshal(raw, obj); err != nil {
		return Header{}, nil, fmt.Errorf("artifact body: %w: %w", jiterrors.ErrMalformedObject, err)
	}
	if obj.CPU != h.CPU {
		return Header{}, nil, fmt.Errorf("artifact: header cpu %q, body cpu %q: %w", h.CPU, obj.CPU, jiterrors.ErrMalformedObject)
	}
	if err := obj.Validate(); err != nil {
		return Header{}, nil, err
	}
	return h, obj, nil
}

// WriteArtifact persists obj at path atomically.
func WriteArtifact(path string, obj *Object) error {
	b, err := EncodeArtifact(obj)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("artifact %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// mapFile maps path read-only and passes the bytes to fn.
func mapFile(path string, fn func(b []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() == 0 {
		return fmt.Errorf("artifact %s: empty: %w", path, jiterrors.ErrMalformedObject)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("artifact %s: map: %w", path, err)
	}
	defer m.Unmap()
	return fn(m)
}

// ReadHeader reads only the header of the artifact at path.
func ReadHeader(path string) (Header, error) {
	var h Header
	err := mapFile(path, func(b []byte) error {
		var err error
		h, _, err = ParseHeader(b)
		return err
	})
	return h, err
}

// ReadArtifact loads the artifact at path.
func ReadArtifact(path string) (Header, *Object, error) {
	var (
		h   Header
		obj *Object
	)
	err := mapFile(path, func(b []byte) error {
		var err error
		h, obj, err = DecodeArtifact(b)
		return err
	})
	if err != nil {
		return Header{}, nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return h, obj, nil
}
