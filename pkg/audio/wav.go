package audio

import "encoding/binary"

// WAVHeader builds a canonical 44-byte RIFF header for PCM16 data.
func WAVHeader(dataSize, sampleRate, channels int) []byte {
	const sampleWidth = 2

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(dataSize+36))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*channels*sampleWidth))
	binary.LittleEndian.PutUint16(header[32:34], uint16(channels*sampleWidth))
	binary.LittleEndian.PutUint16(header[34:36], sampleWidth*8)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	return header
}

// WrapWAV prepends a RIFF header to raw PCM16 data.
func WrapWAV(pcm []byte, sampleRate, channels int) []byte {
	out := make([]byte, 0, 44+len(pcm))
	out = append(out, WAVHeader(len(pcm), sampleRate, channels)...)
	return append(out, pcm...)
}
