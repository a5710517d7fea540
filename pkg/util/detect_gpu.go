package util

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Maps a PCI vendor id to the ffmpeg -hwaccel method that decodes on it
var hwaccelByVendor = map[string]string{
	"0x10de": "cuda",  // nvidia
	"0x8086": "qsv",   // intel
	"0x1002": "vaapi", // amd
}

// DetectHWAccel looks for a render device and returns the hwaccel method ffmpeg
// should use for decoding. An empty string means no supported GPU was found.
func DetectHWAccel() (string, error) {
	zap.L().Debug("Trying to detect gpu for hardware acceleration")

	files, err := os.ReadDir("/dev/dri")
	if err != nil {
		return "", fmt.Errorf("failed to read files in /dev/dri, %w", err)
	}

	for _, f := range files {
		if !strings.HasPrefix(f.Name(), "card") {
			continue
		}

		vendorPath := fmt.Sprintf("/sys/class/drm/%s/device/vendor", f.Name())

		data, err := os.ReadFile(vendorPath)
		if err != nil {
			return "", fmt.Errorf("failed to read vendor file, %w", err)
		}

		if m, ok := hwaccelByVendor[strings.TrimSpace(string(data))]; ok {
			return m, nil
		}
	}

	return "", nil
}
