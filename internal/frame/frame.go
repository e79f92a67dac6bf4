// Package frame implements the fixed-layout binary encoding of a presence
// update as it travels over the broadcast channel.
//
// All integers are big-endian and strings are raw bytes without a
// terminator:
//
//	emailLength int32 | email | lastSeen int64 | ipLength int32 | ip | port int32
//
// The layout carries no version, sequence number, checksum or signature.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"lan_presence/internal/dataType"
)

// ErrMalformedFrame is returned by Decode for any buffer that does not hold
// a complete frame.
var ErrMalformedFrame = errors.New("frame: malformed")

const (
	int32Size = 4
	int64Size = 8

	// MinSize is the length of a frame with two empty strings.
	MinSize = int32Size + int64Size + int32Size + int32Size
)

// Frame is one presence update on the wire.
type Frame struct {
	Identity string
	LastSeen int64
	IP       string
	Port     int32
}

// FromRecord builds the frame announcing rec.
func FromRecord(rec dataType.IdentityRecord) Frame {
	return Frame{Identity: rec.Identity, LastSeen: rec.LastSeen, IP: rec.IP, Port: rec.Port}
}

// Record returns the registry view of f.
func (f Frame) Record() dataType.IdentityRecord {
	return dataType.IdentityRecord{Identity: f.Identity, LastSeen: f.LastSeen, IP: f.IP, Port: f.Port}
}

// Size returns the encoded length of f.
func (f Frame) Size() int {
	return MinSize + len(f.Identity) + len(f.IP)
}

// Encode returns the wire form of f.
func Encode(f Frame) ([]byte, error) {
	return Append(make([]byte, 0, f.Size()), f)
}

// Append appends the wire form of f to dst.
func Append(dst []byte, f Frame) ([]byte, error) {
	if len(f.Identity) > math.MaxInt32 || len(f.IP) > math.MaxInt32 {
		return dst, fmt.Errorf("frame: string field exceeds int32 length")
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Identity)))
	dst = append(dst, f.Identity...)
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.LastSeen))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.IP)))
	dst = append(dst, f.IP...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(f.Port))
	return dst, nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int, field string) ([]byte, error) {
	if n > len(r.buf)-r.off {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d left", ErrMalformedFrame, field, n, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) int32(field string) (int32, error) {
	b, err := r.take(int32Size, field)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *reader) int64(field string) (int64, error) {
	b, err := r.take(int64Size, field)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *reader) string(lengthField, field string) (string, error) {
	n, err := r.int32(lengthField)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("%w: negative %s %d", ErrMalformedFrame, lengthField, n)
	}
	b, err := r.take(int(n), field)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses one frame from the start of b. Bytes after the port field
// are ignored. Field contents are not validated: an identity that is not
// email-shaped or a port outside 0-65535 decodes fine.
func Decode(b []byte) (Frame, error) {
	r := &reader{buf: b}

	identity, err := r.string("emailLength", "email")
	if err != nil {
		return Frame{}, err
	}
	lastSeen, err := r.int64("lastSeen")
	if err != nil {
		return Frame{}, err
	}
	ip, err := r.string("ipLength", "ip")
	if err != nil {
		return Frame{}, err
	}
	port, err := r.int32("port")
	if err != nil {
		return Frame{}, err
	}

	return Frame{Identity: identity, LastSeen: lastSeen, IP: ip, Port: port}, nil
}
