package model

import "time"

// WifiCard represents one saved WiFi QR card.
//
// QRRef holds the encoded QR image as a data URI
// ("data:image/png;base64,..."), not raw bytes — the same reference the
// frontend renders directly into an <img> tag. A card needs both a
// QRRef and a Title to be considered complete and listable.
type WifiCard struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	SSID      string    `json:"ssid"`
	Password  string    `json:"password"` // may be empty for open networks
	Security  string    `json:"security"` // "WPA", "WEP", or "nopass"
	QRRef     string    `json:"qrUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Complete reports whether the card has the fields required for it to
// show up in the saved list.
func (c *WifiCard) Complete() bool {
	return c.QRRef != "" && c.Title != ""
}

// CardPatch is a field-level update to a saved card. Nil pointers mean
// "leave unchanged" — only the set fields travel to storage.
type CardPatch struct {
	Title    *string `json:"title,omitempty"`
	SSID     *string `json:"ssid,omitempty"`
	Password *string `json:"password,omitempty"`
	Security *string `json:"security,omitempty"`
	// QRRef is server-computed from the network fields, never taken
	// from the request body.
	QRRef *string `json:"-"`
}

// Empty reports whether the patch changes nothing.
func (p CardPatch) Empty() bool {
	return p.Title == nil && p.SSID == nil && p.Password == nil && p.Security == nil
}
