package tiff

import (
	"fmt"
	"strconv"
	"strings"
)

// Field types.
const (
	TypeByte      uint16 = 1
	TypeASCII     uint16 = 2
	TypeShort     uint16 = 3
	TypeLong      uint16 = 4
	TypeRational  uint16 = 5
	TypeSByte     uint16 = 6
	TypeUndefined uint16 = 7
	TypeSShort    uint16 = 8
	TypeSLong     uint16 = 9
	TypeSRational uint16 = 10
	TypeFloat     uint16 = 11
	TypeDouble    uint16 = 12
)

var typeSize = [...]int{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

var typeNames = [...]string{"", "byte", "ascii", "short", "long", "rational", "sbyte", "undefined", "sshort", "slong", "srational", "float", "double"}

// TypeName returns the lower-case name of a field type, or "" when unknown.
func TypeName(typ uint16) string {
	if int(typ) >= len(typeNames) {
		return ""
	}
	return typeNames[typ]
}

// ParseTypeName is the inverse of TypeName.
func ParseTypeName(name string) (uint16, bool) {
	for i, n := range typeNames {
		if n != "" && n == name {
			return uint16(i), true
		}
	}
	return 0, false
}

func sizeOf(typ uint16) int {
	if int(typ) >= len(typeSize) {
		return 0
	}
	return typeSize[typ]
}

// Structural tags. They are never exposed as keys; Bytes synthesises them.
const (
	tagExifIFD    uint16 = 0x8769
	tagGPSIFD     uint16 = 0x8825
	tagInteropIFD uint16 = 0xA005
	tagThumbOff   uint16 = 0x0201
	tagThumbLen   uint16 = 0x0202
	tagStripOff   uint16 = 0x0111
)

// Kind identifies one directory of the tree.
type Kind int

const (
	IFD0 Kind = iota
	Exif
	GPS
	Interop
	IFD1
	numKinds
)

var kindPrefix = [numKinds]string{"IFD0", "Exif", "GPS", "Interop", "Thumbnail"}

func (k Kind) String() string { return kindPrefix[k] }

type tagInfo struct {
	name string
	typ  uint16
}

var ifd0Tags = map[uint16]tagInfo{
	0x00FE: {"NewSubfileType", TypeLong},
	0x0100: {"ImageWidth", TypeLong},
	0x0101: {"ImageLength", TypeLong},
	0x0102: {"BitsPerSample", TypeShort},
	0x0103: {"Compression", TypeShort},
	0x0106: {"PhotometricInterpretation", TypeShort},
	0x010D: {"DocumentName", TypeASCII},
	0x010E: {"ImageDescription", TypeASCII},
	0x010F: {"Make", TypeASCII},
	0x0110: {"Model", TypeASCII},
	0x0112: {"Orientation", TypeShort},
	0x0115: {"SamplesPerPixel", TypeShort},
	0x011A: {"XResolution", TypeRational},
	0x011B: {"YResolution", TypeRational},
	0x011C: {"PlanarConfiguration", TypeShort},
	0x0128: {"ResolutionUnit", TypeShort},
	0x012D: {"TransferFunction", TypeShort},
	0x0131: {"Software", TypeASCII},
	0x0132: {"DateTime", TypeASCII},
	0x013B: {"Artist", TypeASCII},
	0x013C: {"HostComputer", TypeASCII},
	0x013E: {"WhitePoint", TypeRational},
	0x013F: {"PrimaryChromaticities", TypeRational},
	0x0211: {"YCbCrCoefficients", TypeRational},
	0x0212: {"YCbCrSubSampling", TypeShort},
	0x0213: {"YCbCrPositioning", TypeShort},
	0x0214: {"ReferenceBlackWhite", TypeRational},
	0x4746: {"Rating", TypeShort},
	0x4749: {"RatingPercent", TypeShort},
	0x8298: {"Copyright", TypeASCII},
	0x9C9B: {"XPTitle", TypeByte},
	0x9C9C: {"XPComment", TypeByte},
	0x9C9D: {"XPAuthor", TypeByte},
	0x9C9E: {"XPKeywords", TypeByte},
	0x9C9F: {"XPSubject", TypeByte},
	0xC4A5: {"PrintImageMatching", TypeUndefined},
}

var exifTags = map[uint16]tagInfo{
	0x829A: {"ExposureTime", TypeRational},
	0x829D: {"FNumber", TypeRational},
	0x8822: {"ExposureProgram", TypeShort},
	0x8824: {"SpectralSensitivity", TypeASCII},
	0x8827: {"ISOSpeedRatings", TypeShort},
	0x8830: {"SensitivityType", TypeShort},
	0x8832: {"RecommendedExposureIndex", TypeLong},
	0x9000: {"ExifVersion", TypeUndefined},
	0x9003: {"DateTimeOriginal", TypeASCII},
	0x9004: {"DateTimeDigitized", TypeASCII},
	0x9010: {"OffsetTime", TypeASCII},
	0x9011: {"OffsetTimeOriginal", TypeASCII},
	0x9012: {"OffsetTimeDigitized", TypeASCII},
	0x9101: {"ComponentsConfiguration", TypeUndefined},
	0x9102: {"CompressedBitsPerPixel", TypeRational},
	0x9201: {"ShutterSpeedValue", TypeSRational},
	0x9202: {"ApertureValue", TypeRational},
	0x9203: {"BrightnessValue", TypeSRational},
	0x9204: {"ExposureBiasValue", TypeSRational},
	0x9205: {"MaxApertureValue", TypeRational},
	0x9206: {"SubjectDistance", TypeRational},
	0x9207: {"MeteringMode", TypeShort},
	0x9208: {"LightSource", TypeShort},
	0x9209: {"Flash", TypeShort},
	0x920A: {"FocalLength", TypeRational},
	0x9214: {"SubjectArea", TypeShort},
	0x927C: {"MakerNote", TypeUndefined},
	0x9286: {"UserComment", TypeUndefined},
	0x9290: {"SubSecTime", TypeASCII},
	0x9291: {"SubSecTimeOriginal", TypeASCII},
	0x9292: {"SubSecTimeDigitized", TypeASCII},
	0xA000: {"FlashpixVersion", TypeUndefined},
	0xA001: {"ColorSpace", TypeShort},
	0xA002: {"PixelXDimension", TypeLong},
	0xA003: {"PixelYDimension", TypeLong},
	0xA004: {"RelatedSoundFile", TypeASCII},
	0xA20B: {"FlashEnergy", TypeRational},
	0xA20E: {"FocalPlaneXResolution", TypeRational},
	0xA20F: {"FocalPlaneYResolution", TypeRational},
	0xA210: {"FocalPlaneResolutionUnit", TypeShort},
	0xA214: {"SubjectLocation", TypeShort},
	0xA215: {"ExposureIndex", TypeRational},
	0xA217: {"SensingMethod", TypeShort},
	0xA300: {"FileSource", TypeUndefined},
	0xA301: {"SceneType", TypeUndefined},
	0xA302: {"CFAPattern", TypeUndefined},
	0xA401: {"CustomRendered", TypeShort},
	0xA402: {"ExposureMode", TypeShort},
	0xA403: {"WhiteBalance", TypeShort},
	0xA404: {"DigitalZoomRatio", TypeRational},
	0xA405: {"FocalLengthIn35mmFilm", TypeShort},
	0xA406: {"SceneCaptureType", TypeShort},
	0xA407: {"GainControl", TypeShort},
	0xA408: {"Contrast", TypeShort},
	0xA409: {"Saturation", TypeShort},
	0xA40A: {"Sharpness", TypeShort},
	0xA40C: {"SubjectDistanceRange", TypeShort},
	0xA420: {"ImageUniqueID", TypeASCII},
	0xA430: {"CameraOwnerName", TypeASCII},
	0xA431: {"BodySerialNumber", TypeASCII},
	0xA432: {"LensSpecification", TypeRational},
	0xA433: {"LensMake", TypeASCII},
	0xA434: {"LensModel", TypeASCII},
	0xA435: {"LensSerialNumber", TypeASCII},
	0xA460: {"CompositeImage", TypeShort},
}

var gpsTags = map[uint16]tagInfo{
	0x0000: {"GPSVersionID", TypeByte},
	0x0001: {"GPSLatitudeRef", TypeASCII},
	0x0002: {"GPSLatitude", TypeRational},
	0x0003: {"GPSLongitudeRef", TypeASCII},
	0x0004: {"GPSLongitude", TypeRational},
	0x0005: {"GPSAltitudeRef", TypeByte},
	0x0006: {"GPSAltitude", TypeRational},
	0x0007: {"GPSTimeStamp", TypeRational},
	0x0008: {"GPSSatellites", TypeASCII},
	0x0009: {"GPSStatus", TypeASCII},
	0x000A: {"GPSMeasureMode", TypeASCII},
	0x000B: {"GPSDOP", TypeRational},
	0x000C: {"GPSSpeedRef", TypeASCII},
	0x000D: {"GPSSpeed", TypeRational},
	0x000E: {"GPSTrackRef", TypeASCII},
	0x000F: {"GPSTrack", TypeRational},
	0x0010: {"GPSImgDirectionRef", TypeASCII},
	0x0011: {"GPSImgDirection", TypeRational},
	0x0012: {"GPSMapDatum", TypeASCII},
	0x0013: {"GPSDestLatitudeRef", TypeASCII},
	0x0014: {"GPSDestLatitude", TypeRational},
	0x0015: {"GPSDestLongitudeRef", TypeASCII},
	0x0016: {"GPSDestLongitude", TypeRational},
	0x0017: {"GPSDestBearingRef", TypeASCII},
	0x0018: {"GPSDestBearing", TypeRational},
	0x0019: {"GPSDestDistanceRef", TypeASCII},
	0x001A: {"GPSDestDistance", TypeRational},
	0x001B: {"GPSProcessingMethod", TypeUndefined},
	0x001C: {"GPSAreaInformation", TypeUndefined},
	0x001D: {"GPSDateStamp", TypeASCII},
	0x001E: {"GPSDifferential", TypeShort},
	0x001F: {"GPSHPositioningError", TypeRational},
}

var interopTags = map[uint16]tagInfo{
	0x0001: {"InteroperabilityIndex", TypeASCII},
	0x0002: {"InteroperabilityVersion", TypeUndefined},
}

func tableFor(k Kind) map[uint16]tagInfo {
	switch k {
	case Exif:
		return exifTags
	case GPS:
		return gpsTags
	case Interop:
		return interopTags
	default:
		return ifd0Tags
	}
}

type tagRef struct {
	kind Kind
	tag  uint16
	typ  uint16
}

// byName maps a key to the directory and tag it is created in.
var byName = func() map[string]tagRef {
	m := make(map[string]tagRef)
	for _, k := range []Kind{IFD0, Exif, GPS, Interop} {
		for tag, info := range tableFor(k) {
			m[info.name] = tagRef{kind: k, tag: tag, typ: info.typ}
		}
	}
	for tag, info := range ifd0Tags {
		m[kindPrefix[IFD1]+"."+info.name] = tagRef{kind: IFD1, tag: tag, typ: info.typ}
	}
	return m
}()

// lookup resolves a key to the directory and tag it is created in. Raw names
// such as "Exif.Tag0xBEEF" resolve with a zero type.
func lookup(key string) (tagRef, bool) {
	if ref, ok := byName[key]; ok {
		return ref, true
	}
	prefix, hex, ok := strings.Cut(key, ".Tag0x")
	if !ok {
		return tagRef{}, false
	}
	n, err := strconv.ParseUint(hex, 16, 16)
	if err != nil {
		return tagRef{}, false
	}
	for k := IFD0; k < numKinds; k++ {
		if kindPrefix[k] == prefix && !isPointer(k, uint16(n)) {
			return tagRef{kind: k, tag: uint16(n)}, true
		}
	}
	return tagRef{}, false
}

// TagName returns the key an entry of kind k is exposed under.
func TagName(k Kind, tag uint16) string {
	info, ok := tableFor(k)[tag]
	switch {
	case ok && k == IFD1:
		return kindPrefix[IFD1] + "." + info.name
	case ok:
		return info.name
	default:
		return fmt.Sprintf("%s.Tag0x%04X", kindPrefix[k], tag)
	}
}
