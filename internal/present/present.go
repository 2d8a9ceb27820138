// Package present formats extraction results for people: sizes, durations,
// download file names and the one-line metadata summary.
package present

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/maauso/framegrab/internal/extract"
)

// Frame labels used for downloads and exported object keys.
const (
	LabelFirst = "First Frame"
	LabelLast  = "Last Frame"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatBytes renders n with 1024-based units, rounding to decimals places
// and dropping trailing zeros. FormatBytes(1536, 2) is "1.5 KB".
func FormatBytes(n int64, decimals int) string {
	if n <= 0 {
		return "0 Bytes"
	}
	if decimals < 0 {
		decimals = 0
	}

	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	i = min(i, len(byteUnits)-1)

	v := float64(n) / math.Pow(1024, float64(i))
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + byteUnits[i]
}

// FormatDuration renders seconds as m:ss. Non-finite or negative input is 0:00.
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "0:00"
	}
	mins := int64(seconds / 60)
	secs := int64(math.Mod(seconds, 60))
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// FrameFilename turns a display label into a download name:
// "First Frame" becomes "first_frame.jpg".
func FrameFilename(label string) string {
	name := strings.Join(strings.FieldsFunc(label, unicode.IsSpace), "_")
	return strings.ToLower(name) + ".jpg"
}

// Summary is the metadata line shown next to the frames,
// for example "0:04 • 1.5 MB • 1920x1080".
func Summary(m extract.Metadata) string {
	return fmt.Sprintf("%s • %s • %dx%d", FormatDuration(m.Duration), FormatBytes(m.Size, 2), m.Width, m.Height)
}

// LabelFor maps a URL path segment ("first" or "last") to its frame label.
func LabelFor(which string) (string, bool) {
	switch strings.ToLower(which) {
	case "first":
		return LabelFirst, true
	case "last":
		return LabelLast, true
	default:
		return "", false
	}
}
