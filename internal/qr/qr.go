// Package qr turns WiFi join-strings into scannable images.
//
// The encoder is behind an interface so the service layer can be tested
// without pulling in PNG rasterization, and so the rendering library
// could be swapped without touching callers.
package qr

// Encoder produces an image reference for a payload string. The
// reference is what gets stored on a card and rendered by the frontend.
type Encoder interface {
	Encode(payload string) (string, error)
}
