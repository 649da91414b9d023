// Package encoding includes implementations of encoding.TextMarshaler and encoding.TextUnmarshaler
// to encode and decode guest memory images. It is based on Intel Hex file-encoding, extended to
// 32-bit addresses to match this machine's flat address space.
//
// Each file is composed of lines composed of a prefix, length, address, type, (optional data) and a
// checksum. In shorthand:
//
//	:LLAAAAAAAATT[DD...]CC
//	012345678901
//
// See [Grammar] for a formal grammar.
//
// # Bugs
//
// This is not a complete implementation of Intel Hex encoding; it is for internal use, only. It
// supports minimal record types, specifically just the data and end-of-file record types, and data
// is stored byte-for-byte rather than split across 16-bit words.
package encoding

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/nullbus/vm32/internal/vm"
)

const Grammar = `
file  = { line } ;
line  = ':' len addr type data check nl ;
len   = byte ;
addr  = byte byte byte byte ;
type  = byte ;
data  = { byte }
byte  = hex hex ;
hex   = '0' | '1' | '2' | '3' | '4' | '5' | '6' | '7' | '8' | '9'
      | 'a' | 'b' | 'c' | 'd' | 'e' | 'f' | 'A' | 'B' | 'C' | 'D' | 'E' | 'F' ;
nl    = '\n' ;
`

// Image is a contiguous run of bytes to be loaded at a fixed guest address.
type Image struct {
	Orig vm.Word
	Data []byte
}

// HexEncoding implements marshalling and unmarshalling of vm32 memory images as Intel-Hex-derived
// text.
type HexEncoding struct {
	code []Image
}

// Code returns the collected images in file order.
func (h HexEncoding) Code() []Image {
	return h.code
}

func (h *HexEncoding) MarshalText() ([]byte, error) {
	var (
		buf   bytes.Buffer
		check byte
	)

	enc := hex.NewEncoder(&buf)

	for _, img := range h.code {
		buf.WriteByte(':')

		l := byte(len(img.Data))
		check += l

		if _, err := enc.Write([]byte{l}); err != nil {
			return buf.Bytes(), err
		}

		var addr [4]byte
		binary.BigEndian.PutUint32(addr[:], uint32(img.Orig))

		for _, b := range addr {
			check += b
		}

		if _, err := enc.Write(addr[:]); err != nil {
			return buf.Bytes(), err
		}

		buf.WriteString("00")

		if _, err := enc.Write(img.Data); err != nil {
			return buf.Bytes(), err
		}

		for _, b := range img.Data {
			check += b
		}

		if _, err := enc.Write([]byte{1 + ^check}); err != nil {
			return buf.Bytes(), err
		}

		buf.WriteByte('\n')
		check = 0
	}

	buf.WriteString(":000000000001ff\n")

	return buf.Bytes(), nil
}

func (h *HexEncoding) UnmarshalText(bs []byte) error {
	line := bufio.NewScanner(bytes.NewReader(bs))

	for line.Scan() {
		rec := line.Bytes()

		var (
			recLen   byte
			recAddr  uint32
			recKind  kind
			recCheck byte
			check    byte
			dec      [4]byte
		)

		if len(rec) == 0 {
			break
		} else if rec[0] != ':' {
			return fmt.Errorf("%w: line does not start with ':'", errInvalidHex)
		} else if len(rec) < minRecordLen {
			return fmt.Errorf("%w: record too short", errInvalidHex)
		}

		if _, err := hex.Decode(dec[:1], rec[1:3]); err != nil {
			return fmt.Errorf("%w: len: %s", errInvalidHex, err.Error())
		}

		recLen = dec[0]
		check += dec[0]

		if _, err := hex.Decode(dec[:4], rec[3:11]); err != nil {
			return fmt.Errorf("%w: addr: %s", errInvalidHex, err.Error())
		}

		recAddr = binary.BigEndian.Uint32(dec[:4])

		for _, b := range dec[:4] {
			check += b
		}

		if _, err := hex.Decode(dec[:1], rec[11:13]); err != nil {
			return fmt.Errorf("%w: type: %s", errInvalidHex, err.Error())
		}

		recKind = kind(dec[0])
		check += dec[0]

		if _, err := hex.Decode(dec[:1], rec[len(rec)-2:]); err != nil {
			return fmt.Errorf("%w: check: %s", errInvalidHex, err.Error())
		}

		recCheck = dec[0]

		switch {
		case recKind == kindData && recLen > 0:
			if 13+int(recLen)*2 > len(rec)-2 {
				return fmt.Errorf("%w: record shorter than declared length", errInvalidHex)
			}

			data := make([]byte, recLen)

			if _, err := hex.Decode(data, rec[13:13+int(recLen)*2]); err != nil {
				return fmt.Errorf("%w: data: %s", errInvalidHex, err.Error())
			}

			for _, b := range data {
				check += b
			}

			check = 1 + ^check
			if check != recCheck {
				return fmt.Errorf("%w: checksum invalid: %02x != %02x", errInvalidHex, check, recCheck)
			}

			h.code = append(h.code, Image{Orig: vm.Word(recAddr), Data: data})

		case recKind == kindEOF:
			check = 1 + ^check
			if check != recCheck {
				return fmt.Errorf("%w: checksum invalid: %02x != %02x", errInvalidHex, check, recCheck)
			}

			if len(h.code) == 0 {
				return errEmpty
			}

			return nil

		default:
			return fmt.Errorf("%w: unexpected record type: %d", errInvalidHex, recKind)
		}
	}

	if len(h.code) == 0 {
		return errEmpty
	}

	return nil
}

// minRecordLen is the shortest possible record: ':' + len(2) + addr(8) +
// type(2) + checksum(2), with zero data bytes.
const minRecordLen = 1 + 2 + 8 + 2 + 2

type kind byte

const (
	kindData kind = 0
	kindEOF  kind = 1
)

type decodingError struct{}

func (decodingError) Error() string {
	return "decoding error"
}

func (de *decodingError) Is(err error) bool {
	if de == err {
		return true
	}

	_, ok := err.(*decodingError)

	return ok
}

var (
	// ErrDecode is a wrapped error that is returned when decoding fails.
	ErrDecode = &decodingError{}

	errEmpty      = fmt.Errorf("%w: no data decoded", ErrDecode)
	errInvalidHex = fmt.Errorf("%w: invalid encoding", ErrDecode)
)
