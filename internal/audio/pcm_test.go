package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func decodeInt16(t *testing.T, pcm []byte) []int16 {
	t.Helper()
	if len(pcm)%2 != 0 {
		t.Fatalf("PCM length %d is not a multiple of 2", len(pcm))
	}
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func TestEncodePCM(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int16
	}{
		{"minimum", -1, -32768},
		{"maximum", 1, 32767},
		{"silence", 0, 0},
		{"half positive", 0.5, 16383},
		{"half negative", -0.5, -16384},
		{"above range clamps", 1.5, 32767},
		{"below range clamps", -2, -32768},
		{"positive infinity clamps", float32(math.Inf(1)), 32767},
		{"negative infinity clamps", float32(math.Inf(-1)), -32768},
		{"nan encodes as zero", float32(math.NaN()), 0},
		{"small negative truncates toward zero", -0.00001, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeInt16(t, EncodePCM([]float32{tt.sample}))
			if got[0] != tt.want {
				t.Errorf("EncodePCM(%v) = %d, want %d", tt.sample, got[0], tt.want)
			}
		})
	}
}

func TestEncodePCM_OutOfRangeMatchesClamped(t *testing.T) {
	for _, s := range []float32{1.0001, 7, 1e9, -1.0001, -7, -1e9} {
		clamped := float32(math.Max(-1, math.Min(1, float64(s))))
		got := EncodePCM([]float32{s})
		want := EncodePCM([]float32{clamped})
		if string(got) != string(want) {
			t.Errorf("EncodePCM(%v) = %v, want clamped encoding %v", s, got, want)
		}
	}
}

func TestEncodePCM_Length(t *testing.T) {
	for _, n := range []int{0, 1, 2, 511, 4096} {
		samples := make([]float32, n)
		if got := len(EncodePCM(samples)); got != 2*n {
			t.Errorf("len(EncodePCM(%d samples)) = %d, want %d", n, got, 2*n)
		}
	}
}

func TestEncodePCM_LittleEndian(t *testing.T) {
	got := EncodePCM([]float32{1, -1})
	want := []byte{0xff, 0x7f, 0x00, 0x80}
	if string(got) != string(want) {
		t.Errorf("EncodePCM byte order = % x, want % x", got, want)
	}
}

func TestDecodeRaw(t *testing.T) {
	samples := []float32{0, 0.25, -0.75, 1}
	raw := EncodeRaw(samples)

	if len(raw) != len(samples)*4 {
		t.Fatalf("Expected %d raw bytes, got %d", len(samples)*4, len(raw))
	}

	decoded := DecodeRaw(raw)
	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d: got %v, want %v", i, decoded[i], samples[i])
		}
	}
}

func TestDecodeRaw_Undecodable(t *testing.T) {
	if DecodeRaw(nil) != nil {
		t.Error("Expected nil for empty chunk")
	}
	if DecodeRaw([]byte{1, 2, 3}) != nil {
		t.Error("Expected nil for partial sample")
	}
	if DecodeRaw([]byte{1, 2, 3, 4, 5}) != nil {
		t.Error("Expected nil for trailing partial sample")
	}
}
