package turn

import (
	"fmt"
	"strings"

	"vchat/audio"
	"vchat/encoder"
)

// Format is the container a completed turn is shipped in.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatPCM  Format = "pcm"
	FormatFLAC Format = "flac"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatWAV, FormatPCM, FormatFLAC:
		return f, nil
	case "":
		return FormatWAV, nil
	}
	return "", fmt.Errorf("unknown payload format %q (want wav, pcm or flac)", s)
}

// Encode wraps raw capture PCM in the container.
func Encode(format Format, pcm []byte) ([]byte, error) {
	switch format {
	case FormatPCM:
		return pcm, nil
	case FormatWAV, "":
		return audio.EncodeWAV(pcm), nil
	case FormatFLAC:
		return encoder.Flac(pcm)
	}
	return nil, fmt.Errorf("unknown payload format %q", format)
}
