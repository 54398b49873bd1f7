package models

import (
	"fmt"
	"strings"
)

// Quality is a named download tier bundling a codec, a target bitrate and a canonical file extension.
type Quality string

const (
	QualityLow      Quality = "low"
	QualityMedium   Quality = "medium"
	QualityHigh     Quality = "high"
	QualityLossless Quality = "lossless"
)

type qualityProfile struct {
	codec   string
	ext     string
	bitrate int // kbps; 0 means not transcoded
}

var qualityProfiles = map[Quality]qualityProfile{
	QualityLow:      {codec: "mp3", ext: "mp3", bitrate: 128},
	QualityMedium:   {codec: "mp3", ext: "mp3", bitrate: 192},
	QualityHigh:     {codec: "mp3", ext: "mp3", bitrate: 320},
	QualityLossless: {codec: "flac", ext: "flac", bitrate: 0},
}

var codecExtensions = map[string]string{
	"mp3":    "mp3",
	"flac":   "flac",
	"aac":    "m4a",
	"alac":   "m4a",
	"m4a":    "m4a",
	"mp4":    "m4a",
	"opus":   "opus",
	"ogg":    "ogg",
	"vorbis": "ogg",
	"wav":    "wav",
}

// Qualities lists the tiers from smallest to largest.
func Qualities() []Quality {
	return []Quality{QualityLow, QualityMedium, QualityHigh, QualityLossless}
}

// ParseQuality accepts a tier name case-insensitively.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if !q.Valid() {
		return "", fmt.Errorf("unknown quality %q (want low, medium, high or lossless)", s)
	}
	return q, nil
}

// Valid reports whether q is a known tier.
func (q Quality) Valid() bool {
	_, ok := qualityProfiles[q]
	return ok
}

// Ext returns the canonical file extension without a dot.
func (q Quality) Ext() string {
	return qualityProfiles[q].ext
}

// Codec returns the codec a server is asked to deliver for this tier.
func (q Quality) Codec() string {
	return qualityProfiles[q].codec
}

// Bitrate returns the target bitrate in kbps, 0 for untranscoded tiers.
func (q Quality) Bitrate() int {
	return qualityProfiles[q].bitrate
}

func (q Quality) String() string {
	return string(q)
}

// CodecExt maps a codec name to its container extension.
func CodecExt(codec string) (string, bool) {
	ext, ok := codecExtensions[strings.ToLower(codec)]
	return ext, ok
}
