package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// defaultSize is the rendered PNG edge length in pixels. 256 matches
// what the frontend previews at; phones scan it comfortably from a
// laptop screen.
const defaultSize = 256

// PNGEncoder renders payloads as PNG data URIs with medium error
// correction. The data URI form means the reference is self-contained:
// it needs no file storage and drops straight into an <img src>.
type PNGEncoder struct {
	size int
}

var _ Encoder = (*PNGEncoder)(nil)

// NewPNGEncoder creates a PNGEncoder with the default size.
func NewPNGEncoder() *PNGEncoder {
	return &PNGEncoder{size: defaultSize}
}

// Encode renders payload as a QR code and returns it as a
// "data:image/png;base64," URI.
//
// The output is deterministic for a given payload — two cards made from
// the same network therefore carry identical references, which is what
// the duplicate check in the card service keys on.
func (e *PNGEncoder) Encode(payload string) (string, error) {
	if payload == "" {
		return "", fmt.Errorf("qr: payload must not be empty")
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, e.size)
	if err != nil {
		return "", fmt.Errorf("qr: encoding payload: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
