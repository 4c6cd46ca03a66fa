// Package integrity checks that a rewritten image still shows the same
// pixels as the original.
package integrity

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/zeebo/blake3"
	"golang.org/x/image/draw"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/codec"
)

// DefaultMaxMSE is the lossy pass threshold.
const DefaultMaxMSE = 2.0

// Strategy names how a verdict was reached.
type Strategy string

const (
	Exact      Strategy = "exact"
	MSE        Strategy = "mse"
	Structural Strategy = "structural"
)

// Verdict is the outcome of one verification.
type Verdict struct {
	Strategy  Strategy
	Passed    bool
	Distance  float64
	Hash      string
	Threshold float64
}

// Verifier compares an original file with its rewritten candidate.
type Verifier interface {
	Verify(original, candidate []byte, c codec.Compression) (Verdict, error)
}

// PixelVerifier decodes both files. Lossless containers must match exactly;
// lossy ones must stay under MaxMSE.
type PixelVerifier struct {
	MaxMSE float64
}

// NewPixelVerifier returns a verifier with the given lossy threshold, or
// DefaultMaxMSE when maxMSE is not positive.
func NewPixelVerifier(maxMSE float64) *PixelVerifier {
	if maxMSE <= 0 {
		maxMSE = DefaultMaxMSE
	}
	return &PixelVerifier{MaxMSE: maxMSE}
}

func (v *PixelVerifier) Verify(original, candidate []byte, c codec.Compression) (Verdict, error) {
	if c == codec.Lossless {
		return v.exact(original, candidate)
	}
	return v.mse(original, candidate)
}

func (v *PixelVerifier) exact(original, candidate []byte) (Verdict, error) {
	verdict := Verdict{Strategy: Exact}
	a, err := decode(original)
	if err != nil {
		return verdict, apperr.Integrity("integrity: exact", "decode original: %v", err)
	}
	b, err := decode(candidate)
	if err != nil {
		return verdict, apperr.Integrity("integrity: exact", "decode candidate: %v", err)
	}
	pa, pb := toNRGBA64(a), toNRGBA64(b)
	ha, hb := digest(pa.Rect, pa.Pix), digest(pb.Rect, pb.Pix)
	verdict.Hash = hb
	if ha != hb {
		verdict.Distance = 1
		return verdict, apperr.Integrity("integrity: exact", "pixel digest %s differs from original %s", short(hb), short(ha))
	}
	verdict.Passed = true
	return verdict, nil
}

func (v *PixelVerifier) mse(original, candidate []byte) (Verdict, error) {
	verdict := Verdict{Strategy: MSE, Threshold: v.MaxMSE}
	a, errA := decode(original)
	b, errB := decode(candidate)
	if errA != nil || errB != nil {
		return structural(original, candidate)
	}
	na, nb := toNRGBA(a), toNRGBA(b)
	if na.Bounds().Size() != nb.Bounds().Size() {
		return verdict, apperr.Integrity("integrity: mse", "dimensions changed from %v to %v", na.Bounds().Size(), nb.Bounds().Size())
	}
	verdict.Distance = meanSquaredError(na, nb)
	verdict.Hash = digest(nb.Rect, nb.Pix)
	if verdict.Distance >= v.MaxMSE {
		return verdict, apperr.Integrity("integrity: mse", "mean squared error %.4f is not below %.4f", verdict.Distance, v.MaxMSE)
	}
	verdict.Passed = true
	return verdict, nil
}

// structural compares headers only, for files the pixel decoders reject.
func structural(original, candidate []byte) (Verdict, error) {
	verdict := Verdict{Strategy: Structural}
	a, _, errA := image.DecodeConfig(bytes.NewReader(original))
	b, _, errB := image.DecodeConfig(bytes.NewReader(candidate))
	if errA != nil || errB != nil {
		return verdict, apperr.Integrity("integrity: structural", "cannot read image header")
	}
	if a.Width != b.Width || a.Height != b.Height || !sameModel(a.ColorModel, b.ColorModel) {
		verdict.Distance = 1
		return verdict, apperr.Integrity("integrity: structural", "header changed from %dx%d to %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	verdict.Passed = true
	return verdict, nil
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func toNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
	return dst
}

func toNRGBA64(src image.Image) *image.NRGBA64 {
	b := src.Bounds()
	dst := image.NewNRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
	return dst
}

// digest hashes the bounds and the raw pixel buffer.
func digest(b image.Rectangle, pix []byte) string {
	h := blake3.New()
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(hdr[4:], uint32(b.Dy()))
	_, _ = h.Write(hdr[:])
	_, _ = h.Write(pix)
	return hex.EncodeToString(h.Sum(nil))
}

func sameModel(a, b color.Model) bool {
	pa, okA := a.(color.Palette)
	pb, okB := b.(color.Palette)
	if okA || okB {
		return okA && okB && len(pa) == len(pb)
	}
	return a == b
}

func meanSquaredError(a, b *image.NRGBA) float64 {
	if len(a.Pix) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+3 < len(a.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			d := float64(a.Pix[i+c]) - float64(b.Pix[i+c])
			sum += d * d
		}
	}
	return sum / float64(len(a.Pix)/4*3)
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
