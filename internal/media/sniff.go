package media

import (
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SoftSizeLimit is the size above which callers warn that extraction may be slow.
const SoftSizeLimit int64 = 500 << 20

// SniffVideo detects the MIME type of r from its leading bytes. ok is true
// when the detected type, or one of its parents, is in the video/ family.
func SniffVideo(r io.Reader) (detected string, ok bool, err error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", false, err
	}
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return mt.String(), true, nil
		}
	}
	return mt.String(), false, nil
}
