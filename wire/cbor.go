package wire

import (
	"fmt"
	"io"
)

// Minimal CBOR (RFC 7049) major-type framing for the fixed, small set of
// scalar shapes ControlMessage needs: unsigned ints, byte strings and text
// strings. Hand-written in the shape github.com/whyrusleeping/cbor-gen
// normally generates (major-type header, then raw value bytes) since we
// cannot invoke code generation here; see DESIGN.md.

const (
	majorUint  = 0
	majorBytes = 2
	majorText  = 3
)

func writeHeader(w io.Writer, major byte, val uint64) error {
	switch {
	case val < 24:
		_, err := w.Write([]byte{major<<5 | byte(val)})
		return err
	case val <= 0xff:
		_, err := w.Write([]byte{major<<5 | 24, byte(val)})
		return err
	case val <= 0xffff:
		_, err := w.Write([]byte{major<<5 | 25, byte(val >> 8), byte(val)})
		return err
	case val <= 0xffffffff:
		_, err := w.Write([]byte{
			major<<5 | 26,
			byte(val >> 24), byte(val >> 16), byte(val >> 8), byte(val),
		})
		return err
	default:
		buf := [9]byte{major<<5 | 27}
		for i := 0; i < 8; i++ {
			buf[8-i] = byte(val >> (8 * i))
		}
		_, err := w.Write(buf[:])
		return err
	}
}

func readHeader(r io.Reader) (major byte, val uint64, err error) {
	var b [1]byte
	if _, err = io.ReadFull(r, b[:]); err != nil {
		return 0, 0, err
	}
	major = b[0] >> 5
	info := b[0] & 0x1f
	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		var buf [1]byte
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, err
		}
		return major, uint64(buf[0]), nil
	case info == 25:
		var buf [2]byte
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, err
		}
		return major, uint64(buf[0])<<8 | uint64(buf[1]), nil
	case info == 26:
		var buf [4]byte
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, err
		}
		val = 0
		for _, bb := range buf {
			val = val<<8 | uint64(bb)
		}
		return major, val, nil
	case info == 27:
		var buf [8]byte
		if _, err = io.ReadFull(r, buf[:]); err != nil {
			return 0, 0, err
		}
		val = 0
		for _, bb := range buf {
			val = val<<8 | uint64(bb)
		}
		return major, val, nil
	default:
		return 0, 0, fmt.Errorf("wire: unsupported CBOR additional info %d", info)
	}
}

func writeUint(w io.Writer, val uint64) error {
	return writeHeader(w, majorUint, val)
}

func readUint(r io.Reader) (uint64, error) {
	major, val, err := readHeader(r)
	if err != nil {
		return 0, err
	}
	if major != majorUint {
		return 0, fmt.Errorf("wire: expected uint major type, got %d", major)
	}
	return val, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeHeader(w, majorBytes, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	major, n, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if major != majorBytes {
		return nil, fmt.Errorf("wire: expected byte string major type, got %d", major)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeText(w io.Writer, s string) error {
	if err := writeHeader(w, majorText, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readText(r io.Reader) (string, error) {
	major, n, err := readHeader(r)
	if err != nil {
		return "", err
	}
	if major != majorText {
		return "", fmt.Errorf("wire: expected text string major type, got %d", major)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
