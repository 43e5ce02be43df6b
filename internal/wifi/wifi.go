// Package wifi builds the textual payload that WiFi QR codes carry.
//
// The format is the de-facto standard understood by iOS and Android
// camera apps:
//
//	WIFI:T:<security>;S:<ssid>;P:<password>;;
//
// This exact grammar is a compatibility boundary — phones scanning the
// generated code parse it literally, so the output here must never be
// reshaped.
package wifi

import (
	"strings"

	"github.com/anfal/wificards/internal/apperror"
)

// Security tags accepted in the T: field. "nopass" is the tag for open
// networks (no password).
const (
	SecurityWPA  = "WPA"
	SecurityWEP  = "WEP"
	SecurityOpen = "nopass"
)

// ValidSecurity reports whether tag is one of the closed set of
// security tags.
func ValidSecurity(tag string) bool {
	switch tag {
	case SecurityWPA, SecurityWEP, SecurityOpen:
		return true
	}
	return false
}

// NormalizeSecurity maps loose user input ("wpa", "open", "") onto the
// closed tag set. Empty and "open" both mean an open network.
func NormalizeSecurity(tag string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "wpa", "wpa2", "wpa3":
		return SecurityWPA, nil
	case "wep":
		return SecurityWEP, nil
	case "", "open", "none", "nopass":
		return SecurityOpen, nil
	}
	return "", apperror.ValidationFailed("security", "security must be WPA, WEP, or nopass")
}

// escaper handles the characters that are structural in the WIFI:
// grammar. They must be backslash-escaped inside SSID and password so a
// network named "a;b" does not terminate the field early.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	`;`, `\;`,
	`,`, `\,`,
	`:`, `\:`,
	`"`, `\"`,
)

// JoinString builds the WIFI: payload for the given network.
// An open network (SecurityOpen) keeps its P: field, just empty —
// scanners expect the field to be present either way.
func JoinString(ssid, password, security string) (string, error) {
	if ssid == "" {
		return "", apperror.ValidationFailed("ssid", "network name is required")
	}
	if !ValidSecurity(security) {
		return "", apperror.ValidationFailed("security", "security must be WPA, WEP, or nopass")
	}
	if security != SecurityOpen && password == "" {
		return "", apperror.ValidationFailed("password", "password is required for secured networks")
	}

	var b strings.Builder
	b.WriteString("WIFI:T:")
	b.WriteString(security)
	b.WriteString(";S:")
	b.WriteString(escaper.Replace(ssid))
	b.WriteString(";P:")
	b.WriteString(escaper.Replace(password))
	b.WriteString(";;")
	return b.String(), nil
}
