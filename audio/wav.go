package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"

	"vchat/encoder"
)

const WAVHeaderSize = 44

var errNotWAV = errors.New("not a RIFF/WAVE file")

// WAVHeader returns the canonical 44-byte PCM header for dataLen bytes of
// capture-format audio.
func WAVHeader(dataLen int) []byte {
	h := make([]byte, WAVHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], uint32(36+dataLen))
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1)
	binary.LittleEndian.PutUint16(h[22:], encoder.Channels)
	binary.LittleEndian.PutUint32(h[24:], encoder.SampleRate)
	binary.LittleEndian.PutUint32(h[28:], BytesPerSecond)
	binary.LittleEndian.PutUint16(h[32:], encoder.Channels*encoder.BitsPerSample/8)
	binary.LittleEndian.PutUint16(h[34:], encoder.BitsPerSample)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], uint32(dataLen))
	return h
}

func EncodeWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))
	buf.Write(WAVHeader(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV strips the header from a canonical PCM WAV file.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < WAVHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errNotWAV
	}
	return data[WAVHeaderSize:], nil
}

func ReadWAV(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeWAV(data)
}
