package imagepkg

import (
	"bytes"
	"fmt"
	"image/png"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	MinBadgeSize     = 64
	MaxBadgeSize     = 1024
	DefaultBadgeSize = 400
)

// BadgePayload is the text encoded in a subject's access badge.
func BadgePayload(subjectNo string) string {
	return "cot:subject:" + subjectNo
}

// AccessBadgePNG returns PNG bytes of a QR code identifying the subject.
// size is clamped to [MinBadgeSize, MaxBadgeSize].
func AccessBadgePNG(subjectNo string, size int) ([]byte, error) {
	size = max(MinBadgeSize, min(size, MaxBadgeSize))
	pngBytes, err := qrcode.Encode(BadgePayload(subjectNo), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode badge: %w", err)
	}
	// validate png decode
	if _, err := png.Decode(bytes.NewReader(pngBytes)); err != nil {
		return nil, fmt.Errorf("decode badge: %w", err)
	}
	return pngBytes, nil
}
