package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedFrame reports a frame whose length is not a whole number of
// samples for the given encoding. Callers are expected to drop the frame and
// keep the stream alive.
var ErrMalformedFrame = errors.New("audio: malformed frame")

const (
	mulawBias = 0x84
	mulawClip = 32635

	alawClip = 32635
)

// Decode expands a companded telephony frame into linear PCM samples. It is
// pure and retains no state between calls.
func Decode(encoding EncodingInfo, frame []byte) ([]int16, error) {
	width := encoding.Format.ByteSize()
	if width <= 0 {
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrMalformedFrame, encoding.Format.Name())
	}
	if len(frame)%width != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of sample width %d", ErrMalformedFrame, len(frame), width)
	}

	samples := make([]int16, len(frame)/width)
	switch encoding.Format {
	case EncodingMulaw:
		for i, b := range frame {
			samples[i] = decodeMulawSample(b)
		}
	case EncodingALaw:
		for i, b := range frame {
			samples[i] = decodeALawSample(b)
		}
	case EncodingLinear16:
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
		}
	}

	return samples, nil
}

// Encode compands linear PCM samples back into the telephony frame format.
func Encode(encoding EncodingInfo, samples []int16) ([]byte, error) {
	width := encoding.Format.ByteSize()
	if width <= 0 {
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrMalformedFrame, encoding.Format.Name())
	}

	frame := make([]byte, len(samples)*width)
	switch encoding.Format {
	case EncodingMulaw:
		for i, sample := range samples {
			frame[i] = encodeMulawSample(sample)
		}
	case EncodingALaw:
		for i, sample := range samples {
			frame[i] = encodeALawSample(sample)
		}
	case EncodingLinear16:
		for i, sample := range samples {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(sample))
		}
	}

	return frame, nil
}

func decodeMulawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := ((int16(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias

	if sign != 0 {
		return -sample
	}
	return sample
}

func encodeMulawSample(sample int16) byte {
	var sign byte
	value := int32(sample)
	if value < 0 {
		value = -value
		sign = 0x80
	}
	if value > mulawClip {
		value = mulawClip
	}
	value += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); (value&mask) == 0 && exponent > 0; exponent-- {
		mask >>= 1
	}
	mantissa := byte(value>>(exponent+3)) & 0x0F

	return ^(sign | (exponent << 4) | mantissa)
}

func decodeALawSample(b byte) int16 {
	b ^= 0x55
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	var sample int16
	if exponent == 0 {
		sample = (int16(mantissa) << 4) + 8
	} else {
		sample = ((int16(mantissa) << 4) + 0x108) << (exponent - 1)
	}

	if sign != 0 {
		return -sample
	}
	return sample
}

func encodeALawSample(sample int16) byte {
	var sign byte = 0x80
	value := int32(sample)
	if value < 0 {
		value = -value - 1
		sign = 0
	}
	if value > alawClip {
		value = alawClip
	}

	var compressed byte
	if value < 256 {
		compressed = byte(value >> 4)
	} else {
		exponent := byte(7)
		for mask := int32(0x4000); (value&mask) == 0 && exponent > 1; exponent-- {
			mask >>= 1
		}
		mantissa := byte(value>>(exponent+3)) & 0x0F
		compressed = (exponent << 4) | mantissa
	}

	return (sign | compressed) ^ 0x55
}
