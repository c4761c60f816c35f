package decision

import (
	"bytes"
	"strings"

	"voxdrop/internal/rejection"
)

// Limits are the technical validation bounds applied before any AI call.
type Limits struct {
	MinBytes     int64
	MaxBytes     int64
	MinSeconds   float64
	MaxSeconds   float64
	AllowedTypes []string
}

// PayloadMeta describes what validation needs to know about a payload.
type PayloadMeta struct {
	SizeBytes       int64
	ContentType     string
	Header          []byte
	DeclaredSeconds float64
}

var audioMagics = [][]byte{
	[]byte("RIFF"),             // wav (RIFF....WAVE)
	[]byte("ID3"),              // mp3 with ID3 tag
	{0xFF, 0xFB}, {0xFF, 0xF3}, {0xFF, 0xF2}, // bare mp3 frame sync
	[]byte("OggS"), // ogg
	[]byte("fLaC"), // flac
}

var executableMagics = [][]byte{
	{0x4D, 0x5A},             // PE
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xCF, 0xFA, 0xED, 0xFE}, // Mach-O
	{0x50, 0x4B, 0x03, 0x04}, // zip container
	[]byte("#!"),             // script
}

// ValidatePayload runs the cheap technical and security checks. It returns
// the first matching rejection, evaluated in a fixed order so identical
// payloads always fail the same way: size, format, header integrity,
// executable sniff, declared duration.
func ValidatePayload(meta PayloadMeta, limits Limits) (rejection.Code, bool) {
	if meta.SizeBytes < limits.MinBytes {
		return rejection.FileTooSmall, false
	}
	if meta.SizeBytes > limits.MaxBytes {
		return rejection.FileTooLarge, false
	}
	if !typeAllowed(meta.ContentType, limits.AllowedTypes) {
		return rejection.UnsupportedFormat, false
	}
	for _, magic := range executableMagics {
		if bytes.HasPrefix(meta.Header, magic) {
			return rejection.SuspiciousPayload, false
		}
	}
	if !looksLikeAudio(meta.Header) {
		return rejection.FileCorrupted, false
	}
	if meta.DeclaredSeconds > 0 {
		if meta.DeclaredSeconds < limits.MinSeconds {
			return rejection.AudioTooShort, false
		}
		if meta.DeclaredSeconds > limits.MaxSeconds {
			return rejection.AudioTooLong, false
		}
	}
	return "", true
}

func typeAllowed(contentType string, allowed []string) bool {
	// Strip parameters such as "; charset=...".
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, t := range allowed {
		if contentType == strings.ToLower(t) {
			return true
		}
	}
	return false
}

func looksLikeAudio(header []byte) bool {
	for _, magic := range audioMagics {
		if bytes.HasPrefix(header, magic) {
			return true
		}
	}
	// MP4/M4A places "ftyp" at offset 4.
	if len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp")) {
		return true
	}
	return false
}
