package integrity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/starford/exifwarden/internal/apperr"
	"github.com/starford/exifwarden/internal/codec"
	"github.com/starford/exifwarden/internal/testutil"
)

func inverted(t *testing.T, w, h int) *image.NRGBA {
	t.Helper()
	img := testutil.Pattern(w, h)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 255-img.Pix[i], 255-img.Pix[i+1], 255-img.Pix[i+2]
	}
	return img
}

func TestLosslessExactMatch(t *testing.T) {
	data := testutil.PNG(t, 16, 16)
	withText := testutil.WithChunks(data, testutil.TextChunk("Comment", "x"))

	v, err := NewPixelVerifier(0).Verify(data, withText, codec.Lossless)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Passed || v.Strategy != Exact || v.Hash == "" {
		t.Errorf("verdict = %+v", v)
	}
}

func TestLosslessMismatch(t *testing.T) {
	var other bytes.Buffer
	if err := png.Encode(&other, inverted(t, 16, 16)); err != nil {
		t.Fatal(err)
	}
	v, err := NewPixelVerifier(0).Verify(testutil.PNG(t, 16, 16), other.Bytes(), codec.Lossless)
	if !errors.Is(err, apperr.ErrIntegrity) {
		t.Fatalf("err = %v, want integrity error", err)
	}
	if v.Passed {
		t.Error("verdict passed")
	}
}

func TestLosslessUndecodable(t *testing.T) {
	data := testutil.PNG(t, 8, 8)
	_, err := NewPixelVerifier(0).Verify(data, data[:len(data)/2], codec.Lossless)
	if !errors.Is(err, apperr.ErrIntegrity) {
		t.Fatalf("err = %v, want integrity error", err)
	}
}

func TestLossyMSE(t *testing.T) {
	data := testutil.JPEG(t, 32, 24)
	v, err := NewPixelVerifier(DefaultMaxMSE).Verify(data, data, codec.Lossy)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Passed || v.Strategy != MSE || v.Distance != 0 || v.Threshold != DefaultMaxMSE {
		t.Errorf("verdict = %+v", v)
	}

	var other bytes.Buffer
	if err := jpeg.Encode(&other, inverted(t, 32, 24), nil); err != nil {
		t.Fatal(err)
	}
	v, err = NewPixelVerifier(DefaultMaxMSE).Verify(data, other.Bytes(), codec.Lossy)
	if !errors.Is(err, apperr.ErrIntegrity) {
		t.Fatalf("err = %v, want integrity error", err)
	}
	if v.Passed || v.Distance < DefaultMaxMSE {
		t.Errorf("verdict = %+v", v)
	}
}

// scanStart returns the offset of the first entropy-coded byte after SOS.
func scanStart(t *testing.T, data []byte) int {
	t.Helper()
	pos := 2
	for pos+4 <= len(data) {
		marker := data[pos+1]
		n := int(binary.BigEndian.Uint16(data[pos+2:]))
		if marker == 0xDA {
			return pos + 2 + n
		}
		pos += 2 + n
	}
	t.Fatal("no SOS segment")
	return 0
}

func TestLossyStructuralFallback(t *testing.T) {
	data := testutil.JPEG(t, 32, 24)
	start := scanStart(t, data)
	// Cut inside the scan: headers intact, pixels undecodable.
	truncated := data[:start+(len(data)-2-start)/2]
	if _, err := jpeg.Decode(bytes.NewReader(truncated)); err == nil {
		t.Fatal("truncated scan should not decode")
	}

	v, err := NewPixelVerifier(0).Verify(data, truncated, codec.Lossy)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Strategy != Structural || !v.Passed {
		t.Errorf("verdict = %+v", v)
	}

	_, err = NewPixelVerifier(0).Verify([]byte("junk"), []byte("junk"), codec.Lossy)
	if !errors.Is(err, apperr.ErrIntegrity) {
		t.Errorf("err = %v, want integrity error", err)
	}
}
