package metadata

import "strings"

// Class is the privacy classification of a key name.
type Class int

const (
	ClassNone Class = iota
	ClassGPS
	ClassPersonal
)

func (c Class) String() string {
	switch c {
	case ClassGPS:
		return "gps"
	case ClassPersonal:
		return "personal"
	default:
		return "none"
	}
}

// These lists are the only definition of what counts as sensitive.
var (
	gpsTokens = []string{
		"gps", "latitude", "longitude", "altitude",
		"location", "geotag", "coordinate", "position",
	}
	personalTokens = []string{
		"make", "model", "serial", "software", "lens", "camera",
		"artist", "author", "creator", "owner", "user", "copyright", "contact",
	}
	// Names that contain a GPS token but describe image structure.
	gpsExceptions = []string{"ycbcrpositioning"}
)

// Classify returns the privacy class of key. Matching is a case-insensitive
// substring test; GPS wins over personal.
func Classify(key string) Class {
	k := strings.ToLower(key)
	g := k
	for _, e := range gpsExceptions {
		g = strings.ReplaceAll(g, e, "")
	}
	if containsAny(g, gpsTokens) {
		return ClassGPS
	}
	if containsAny(k, personalTokens) {
		return ClassPersonal
	}
	return ClassNone
}

// IsGPSKey reports whether key names location data.
func IsGPSKey(key string) bool { return Classify(key) == ClassGPS }

// IsSensitiveKey reports whether key names location, device or personal data.
func IsSensitiveKey(key string) bool { return Classify(key) != ClassNone }

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
