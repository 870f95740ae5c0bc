package audio

import "math"

// Clamp16 converts a float32 sample in [-1, 1] to int16 with clipping.
func Clamp16(sample float32) int16 {
	if sample > 1.0 {
		return 32767
	}
	if sample < -1.0 {
		return -32768
	}
	return int16(sample * 32767)
}

// Float32ToInt16Into fills dst with float32 samples converted to int16.
func Float32ToInt16Into(dst []int16, samples []float32) []int16 {
	if cap(dst) < len(samples) {
		dst = make([]int16, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = Clamp16(sample)
	}
	return dst
}

// Int16ToFloat32Into fills dst with int16 samples scaled to [-1, 1].
func Int16ToFloat32Into(dst []float32, samples []int16) []float32 {
	if cap(dst) < len(samples) {
		dst = make([]float32, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32(sample) / float32(math.MaxInt16)
	}
	return dst
}

// Int16ToBytes converts int16 samples to little-endian PCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	if len(samples) == 0 {
		return nil
	}
	return Int16ToBytesInto(make([]byte, len(samples)*2), samples)
}

// Int16ToBytesInto converts int16 samples into dst as PCM16LE.
func Int16ToBytesInto(dst []byte, samples []int16) []byte {
	needed := len(samples) * 2
	if cap(dst) < needed {
		dst = make([]byte, needed)
	} else {
		dst = dst[:needed]
	}
	for i, sample := range samples {
		offset := i * 2
		dst[offset] = byte(sample)
		dst[offset+1] = byte(sample >> 8)
	}
	return dst
}

// BytesToInt16 converts PCM16LE bytes to int16 samples. A trailing odd
// byte is zero-padded.
func BytesToInt16(data []byte) []int16 {
	return BytesToInt16Into(nil, data)
}

// BytesToInt16Into converts PCM16LE bytes into dst.
func BytesToInt16Into(dst []int16, data []byte) []int16 {
	needed := (len(data) + 1) / 2
	if cap(dst) < needed {
		dst = make([]int16, needed)
	} else {
		dst = dst[:needed]
	}
	for i := 0; i < len(data)/2; i++ {
		dst[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	if len(data)%2 != 0 {
		dst[needed-1] = int16(data[len(data)-1])
	}
	return dst
}

// RMS returns the root mean square amplitude of PCM16LE audio.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < samples; i++ {
		sample := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(samples))
}
