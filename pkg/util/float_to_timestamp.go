package util

import (
	"fmt"
	"math"
)

// FloatToTimestamp renders seconds as HH:MM:SS.mmm for ffmpeg's -ss.
// Negative and NaN inputs render as zero.
func FloatToTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}

	// Work in whole milliseconds, 2.3 would otherwise come out as .299
	ms := int64(math.Round(seconds * 1000))

	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		ms/3_600_000,
		ms/60_000%60,
		ms/1000%60,
		ms%1000,
	)
}
