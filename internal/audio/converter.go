package audio

import (
	"fmt"
	"strings"
)

// Format identifies the sample encoding a client declared for its audio.
type Format string

const (
	FormatPCM   Format = "pcm"   // signed 16-bit little-endian
	FormatMulaw Format = "mulaw" // G.711 μ-law, 8 bits per sample
)

// ParseFormat normalises a client-supplied format name.
func ParseFormat(name string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pcm", "s16le", "pcm_s16le", "linear16", "raw":
		return FormatPCM, true
	case "mulaw", "ulaw", "pcmu", "g711u":
		return FormatMulaw, true
	default:
		return "", false
	}
}

// Normalizer converts client audio into canonical 16 kHz 16-bit mono PCM.
type Normalizer struct {
	Format     Format
	SampleRate int
}

// Canonical reports whether input already has the canonical format, in which
// case Normalize is a no-op.
func (n Normalizer) Canonical() bool {
	return (n.Format == "" || n.Format == FormatPCM) && (n.SampleRate == 0 || n.SampleRate == SampleRate)
}

// Normalize converts one chunk. Canonical input is returned unchanged.
func (n Normalizer) Normalize(data []byte) ([]byte, error) {
	if n.Canonical() {
		return data, nil
	}

	var samples []int16
	switch n.Format {
	case FormatMulaw:
		samples = make([]int16, len(data))
		for i, b := range data {
			samples[i] = mulawToLinear(b)
		}
	case "", FormatPCM:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
		}
		samples = SamplesFromPCM(data)
	default:
		return nil, fmt.Errorf("unsupported audio format %q", n.Format)
	}

	if n.SampleRate > 0 && n.SampleRate != SampleRate {
		samples = resample(samples, n.SampleRate, SampleRate)
	}
	return PCMFromSamples(samples), nil
}

// SamplesFromPCM decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func SamplesFromPCM(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// PCMFromSamples encodes samples as little-endian 16-bit PCM.
func PCMFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// resample performs linear interpolation resampling
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// mulawToLinear decodes one G.711 μ-law byte to a 16-bit linear sample.
func mulawToLinear(mulawByte byte) int16 {
	const bias = 0x84

	mulawByte = ^mulawByte
	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	magnitude := ((mantissa << 3) + bias) << segment
	magnitude -= bias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}
