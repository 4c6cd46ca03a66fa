package xmp

// Namespace URIs that keys may use without a declaration in the packet.
var DefaultPrefix = map[string]string{
	"Iptc4xmpCore": "http://iptc.org/std/Iptc4xmpCore/1.0/xmlns/",
	"Iptc4xmpExt":  "http://iptc.org/std/Iptc4xmpExt/2008-02-29/",
	"GPano":        "http://ns.google.com/photos/1.0/panorama/",
	"aux":          "http://ns.adobe.com/exif/1.0/aux/",
	"crs":          "http://ns.adobe.com/camera-raw-settings/1.0/",
	"dc":           "http://purl.org/dc/elements/1.1/",
	"exif":         "http://ns.adobe.com/exif/1.0/",
	"exifEX":       "http://cipa.jp/exif/1.0/",
	"lr":           "http://ns.adobe.com/lightroom/1.0/",
	"pdf":          "http://ns.adobe.com/pdf/1.3/",
	"photoshop":    "http://ns.adobe.com/photoshop/1.0/",
	"plus":         "http://ns.useplus.org/ldf/xmp/1.0/",
	"stEvt":        "http://ns.adobe.com/xap/1.0/sType/ResourceEvent#",
	"stRef":        "http://ns.adobe.com/xap/1.0/sType/ResourceRef#",
	"tiff":         "http://ns.adobe.com/tiff/1.0/",
	"xmp":          "http://ns.adobe.com/xap/1.0/",
	"xmpDM":        "http://ns.adobe.com/xmp/1.0/DynamicMedia/",
	"xmpMM":        "http://ns.adobe.com/xap/1.0/mm/",
	"xmpRights":    "http://ns.adobe.com/xap/1.0/rights/",
}

const (
	rdfNS = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	xmlNS = "http://www.w3.org/XML/1998/namespace"
)
