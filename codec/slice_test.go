package codec

import (
	"encoding/binary"
	"errors"
	"testing"
)

type row struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestSliceRoundTrip(t *testing.T) {
	sc := Slice[row]{Elem: JSON[row]{}}

	in := []row{{"1", "alpha"}, {"2", "beta"}, {"3", ""}}
	b, err := sc.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := sc.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("element %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestSliceEmpty(t *testing.T) {
	sc := Slice[row]{Elem: JSON[row]{}}

	b, err := sc.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := sc.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("decoded %d elements from an empty frame", len(out))
	}
}

func TestSliceRejectsCorruptFrames(t *testing.T) {
	sc := Slice[row]{Elem: JSON[row]{}}

	good, err := sc.Encode([]row{{"1", "alpha"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"short header", []byte{0, 0}},
		{"trailing bytes", append(append([]byte(nil), good...), 0xFF)},
		{"truncated element", good[:len(good)-1]},
		{"count beyond payload", func() []byte {
			b := append([]byte(nil), good...)
			binary.BigEndian.PutUint32(b[:4], 1000)
			return b
		}()},
		{"element length beyond payload", func() []byte {
			b := append([]byte(nil), good...)
			binary.BigEndian.PutUint32(b[4:8], uint32(len(b)))
			return b
		}()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := sc.Decode(tc.b); !errors.Is(err, ErrCorruptSlice) {
				t.Fatalf("Decode = %v, want ErrCorruptSlice", err)
			}
		})
	}
}

func TestSliceSurfacesElementCodecErrors(t *testing.T) {
	sc := Slice[row]{Elem: JSON[row]{}}

	// a structurally valid frame whose element payload is not valid JSON
	elem := []byte("{not json")
	b := make([]byte, 0, 8+len(elem))
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], 1)
	b = append(b, u4[:]...)
	binary.BigEndian.PutUint32(u4[:], uint32(len(elem)))
	b = append(b, u4[:]...)
	b = append(b, elem...)

	if _, err := sc.Decode(b); err == nil || errors.Is(err, ErrCorruptSlice) {
		t.Fatalf("Decode = %v, want the element codec's error", err)
	}
}
