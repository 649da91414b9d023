package encoding

import (
	"encoding"
	"errors"
	"testing"

	"github.com/nullbus/vm32/internal/vm"
)

// Assert interface implemented.
var (
	_ encoding.TextMarshaler   = (*HexEncoding)(nil)
	_ encoding.TextUnmarshaler = (*HexEncoding)(nil)
)

type unmarshalTestCase struct {
	name, input string

	expectImages int
	expectErr    error
}

func TestHexEncoder_UnmarshalText(t *testing.T) {
	t.Parallel()

	tcs := []unmarshalTestCase{
		{
			name:      "empty",
			input:     "",
			expectErr: errEmpty,
		},
		{
			name:      "eof record",
			input:     ":000000000001ff",
			expectErr: errEmpty,
		},
		{
			name:      "eof record with newlines",
			input:     "\n\n:000000000001ff\n\n",
			expectErr: errEmpty,
		},
		{
			name:      "invalid bytes",
			input:     ":invalid",
			expectErr: errInvalidHex,
		},
		{
			name:      "nonsense",
			input:     "u wot mate",
			expectErr: errInvalidHex,
		},
		{
			name:         "data record",
			input:        ":040000000000deadbeefc4\n:000000000001ff\n",
			expectImages: 1,
		},
		{
			name:         "data records",
			input:        ":040000000000deadbeefc4\n:040000001000cafef00d27\n:000000000001ff\n",
			expectImages: 2,
		},
		{
			name:      "too short",
			input:     ":0",
			expectErr: errInvalidHex,
		},
		{
			name:      "too short",
			input:     ":00",
			expectErr: errInvalidHex,
		},
		{
			name:      "too short",
			input:     ":FF0",
			expectErr: errInvalidHex,
		},
		{
			name:      "too short",
			input:     ":FF000000",
			expectErr: errInvalidHex,
		},
		{
			name:      "bad checksum",
			input:     ":040000000000deadbeef00\n:000000000001ff\n",
			expectErr: errInvalidHex,
		},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, err := unmarshal(tc)

			t.Logf("have: %q, got: %+v, err: %v", tc.input, code, err)

			switch {
			case tc.expectErr != nil && err != nil:
				if !errors.Is(err, tc.expectErr) {
					t.Errorf("Unexpected error: got: %s, want: %s",
						err.Error(), tc.expectErr.Error())
				}
			case tc.expectErr != nil && err == nil:
				t.Errorf("Expected error: %s", tc.expectErr.Error())
			case tc.expectErr == nil && err != nil:
				t.Errorf("Unexpected error: got: %v", err)
			case len(code) != tc.expectImages:
				t.Errorf("Unexpected image count: want: %d, got: %d", tc.expectImages, len(code))
			}
		})
	}
}

type marshalTestCase struct {
	name  string
	input []Image

	expectOutput string
	expectErr    error
}

func TestHexEncoder_MarshalText(t *testing.T) {
	t.Parallel()

	tcs := []marshalTestCase{
		{
			name:         "nil",
			input:        nil,
			expectOutput: ":000000000001ff\n",
		},
		{
			name: "fixed bytes",
			input: []Image{
				{
					Orig: vm.Word(0x00000000),
					Data: []byte{0xde, 0xad, 0xbe, 0xef},
				},
			},
			expectOutput: ":040000000000deadbeefc4\n:000000000001ff\n",
		},
	}

	for _, tc := range tcs {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			output, err := marshal(tc)

			t.Logf("have: %+v, got: %q, err: %v", tc.input, output, err)

			switch {
			case tc.expectErr != nil && err != nil:
				if !errors.Is(err, tc.expectErr) {
					t.Errorf("Unexpected error: got: %s, want: %s",
						err.Error(), tc.expectErr.Error())
				}
			case tc.expectErr != nil && err == nil:
				t.Errorf("Expected error: %s", tc.expectErr.Error())
			case tc.expectErr == nil && err != nil:
				t.Errorf("Unexpected error: got: %v", err)
			default:
				if tc.expectOutput != output {
					t.Errorf("got: %q, want: %q", output, tc.expectOutput)
				}
			}
		})
	}
}

func TestHexEncoder_RoundTrip(t *testing.T) {
	t.Parallel()

	enc := HexEncoding{code: []Image{
		{Orig: 0x100, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	}}

	text, err := enc.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var dec HexEncoding
	if err := dec.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(dec.Code()) != 1 {
		t.Fatalf("want 1 image, got %d", len(dec.Code()))
	}

	if dec.Code()[0].Orig != 0x100 {
		t.Errorf("orig: got %s, want 0x100", dec.Code()[0].Orig)
	}
}

func marshal(tc marshalTestCase) (string, error) {
	encoder := HexEncoding{code: tc.input}

	out, err := encoder.MarshalText()

	return string(out), err
}

func unmarshal(tc unmarshalTestCase) ([]Image, error) {
	decoder := HexEncoding{}
	err := decoder.UnmarshalText([]byte(tc.input))

	return decoder.Code(), err
}
