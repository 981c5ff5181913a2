package capture

import (
	"fmt"
	"strconv"
)

// MicSampleRate is the PCM16 rate requested from the microphone.
const MicSampleRate = 16000

func micArgs(goos, device string, channels int) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		input = []string{"-f", "avfoundation", "-i", device}
	case "linux":
		if device == "" {
			device = "default"
		}
		input = []string{"-f", "pulse", "-i", device}
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", strconv.Itoa(max(1, channels)),
		"-ar", strconv.Itoa(MicSampleRate),
		"-f", "s16le", "-",
	), nil
}

func snapshotArgs(goos, device string) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		input = []string{"-f", "avfoundation", "-framerate", "30", "-i", device}
	case "linux":
		if device == "" {
			device = "/dev/video0"
		}
		input = []string{"-f", "v4l2", "-i", device}
	default:
		return nil, fmt.Errorf("camera capture is not implemented for %s", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "mjpeg", "-"), nil
}
