package audio

import (
	"encoding/binary"
	"math"
)

const (
	// BytesPerSample is the width of one encoded PCM sample
	BytesPerSample = 2
	// BytesPerRawSample is the width of one raw float32 sample
	BytesPerRawSample = 4

	negativeScale = 0x8000
	positiveScale = 0x7fff
)

// EncodePCM converts normalized float samples into signed 16-bit
// little-endian PCM. Samples are clamped to [-1, 1]; negative values are
// scaled by 32768 and the rest by 32767, truncating toward zero. NaN
// encodes as 0.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(encodeSample(sample)))
	}
	return out
}

func encodeSample(sample float32) int16 {
	s := float64(sample)
	if math.IsNaN(s) {
		return 0
	}
	s = math.Max(-1, math.Min(1, s))
	if s < 0 {
		return int16(s * negativeScale)
	}
	return int16(s * positiveScale)
}

// DecodeRaw interprets a raw capture chunk as little-endian float32 samples.
// It returns nil when the chunk holds no whole sample set.
func DecodeRaw(chunk []byte) []float32 {
	if len(chunk) == 0 || len(chunk)%BytesPerRawSample != 0 {
		return nil
	}
	samples := make([]float32, len(chunk)/BytesPerRawSample)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*BytesPerRawSample:]))
	}
	return samples
}

// EncodeRaw is the inverse of DecodeRaw, used by capture hosts that start
// from decoded samples.
func EncodeRaw(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerRawSample)
	for i, sample := range samples {
		binary.LittleEndian.PutUint32(out[i*BytesPerRawSample:], math.Float32bits(sample))
	}
	return out
}
