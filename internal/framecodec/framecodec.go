// Package framecodec converts transport-encoded frames to BGR images and back.
package framecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrBase64Decode marks payloads that are not valid base64.
	ErrBase64Decode = errors.New("base64 decode error")
	// ErrImageDecode marks bytes that are not a recognised, non-empty image.
	ErrImageDecode = errors.New("image decode error")
)

// DecodeError carries which decode stage failed. Kind is ErrBase64Decode or ErrImageDecode.
type DecodeError struct {
	Kind error
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == e.Kind }

// Format is an image container used when encoding frames.
type Format string

const (
	JPEG Format = ".jpg"
	PNG  Format = ".png"
)

func (f Format) mime() string {
	if f == PNG {
		return "image/png"
	}
	return "image/jpeg"
}

// StripDataURL drops everything up to and including the first comma, so
// "data:image/jpeg;base64,AAAA" becomes "AAAA". Payloads without a comma are returned unchanged.
func StripDataURL(payload string) string {
	if i := strings.IndexByte(payload, ','); i >= 0 {
		return payload[i+1:]
	}
	return payload
}

// DecodeBase64 strips an optional data-URL prefix and whitespace, then
// decodes padded or unpadded standard base64.
func DecodeBase64(payload string) ([]byte, error) {
	data := strings.Join(strings.Fields(StripDataURL(payload)), "")
	if data == "" {
		return nil, &DecodeError{Kind: ErrBase64Decode, Err: errors.New("empty payload")}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		var rawErr error
		raw, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if rawErr != nil {
			return nil, &DecodeError{Kind: ErrBase64Decode, Err: err}
		}
	}
	return raw, nil
}

// DecodeFrame decodes a base64 (optionally data-URL prefixed) JPEG or PNG
// into a 3-channel BGR Mat. The caller owns and must Close the returned Mat,
// including on error.
func DecodeFrame(payload string) (gocv.Mat, error) {
	raw, err := DecodeBase64(payload)
	if err != nil {
		return gocv.NewMat(), err
	}
	return DecodeImage(raw)
}

// DecodeImage decodes encoded image bytes into a 3-channel BGR Mat.
// OpenCV handles the common formats; anything it rejects is retried with
// the Go image decoders (webp, bmp, gif).
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), &DecodeError{Kind: ErrImageDecode, Err: errors.New("no image data")}
	}

	if mat, err := gocv.IMDecode(data, gocv.IMReadColor); err == nil {
		if !mat.Empty() {
			return ensureBGR(mat)
		}
		mat.Close()
	}

	img, _, decErr := image.Decode(bytes.NewReader(data))
	if decErr != nil {
		return gocv.NewMat(), &DecodeError{Kind: ErrImageDecode, Err: decErr}
	}
	return matFromImage(img)
}

// EncodeFrame encodes a Mat into the given container format.
func EncodeFrame(mat gocv.Mat, format Format) ([]byte, error) {
	if mat.Empty() {
		return nil, errors.New("encode empty frame")
	}
	buf, err := gocv.IMEncode(gocv.FileExt(format), mat)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	defer buf.Close()

	// GetBytes aliases native memory released by Close
	return bytes.Clone(buf.GetBytes()), nil
}

// EncodeBase64 encodes a Mat and returns it as standard base64, optionally
// prefixed with a data URL header.
func EncodeBase64(mat gocv.Mat, format Format, withDataURL bool) (string, error) {
	data, err := EncodeFrame(mat, format)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if withDataURL {
		return "data:" + format.mime() + ";base64," + encoded, nil
	}
	return encoded, nil
}

// ensureBGR converts grayscale and 4-channel Mats to 3-channel BGR, taking ownership of mat.
func ensureBGR(mat gocv.Mat) (gocv.Mat, error) {
	var code gocv.ColorConversionCode
	switch mat.Channels() {
	case 3:
		return mat, nil
	case 1:
		code = gocv.ColorGrayToBGR
	case 4:
		code = gocv.ColorBGRAToBGR
	default:
		ch := mat.Channels()
		mat.Close()
		return gocv.NewMat(), &DecodeError{Kind: ErrImageDecode, Err: fmt.Errorf("unsupported channel count %d", ch)}
	}

	out := gocv.NewMat()
	gocv.CvtColor(mat, &out, code)
	mat.Close()
	return out, nil
}

// matFromImage copies an image.Image into a BGR Mat.
func matFromImage(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), &DecodeError{Kind: ErrImageDecode, Err: errors.New("zero-size image")}
	}

	data := make([]byte, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data = append(data, byte(bl>>8), byte(g>>8), byte(r>>8))
		}
	}

	view, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), &DecodeError{Kind: ErrImageDecode, Err: err}
	}
	defer view.Close()

	// view borrows data; hand back an owning copy
	return view.Clone(), nil
}
