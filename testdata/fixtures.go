// Package testdata builds synthetic frames and videos for tests.
package testdata

import (
	"encoding/base64"
	"fmt"

	"gocv.io/x/gocv"
)

// GradientFrame returns a w×h BGR frame whose pixel values depend on position,
// so any reordering or channel swap changes its bytes.
func GradientFrame(w, h int) gocv.Mat {
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mat.SetUCharAt(y, x*3, uint8((x*7)%256))
			mat.SetUCharAt(y, x*3+1, uint8((y*5)%256))
			mat.SetUCharAt(y, x*3+2, uint8((x+y)%256))
		}
	}
	return mat
}

// NumberedFrame returns a uniform frame whose blue channel encodes n, used to
// tell video frames apart after a round trip through a lossy codec.
func NumberedFrame(w, h, n int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(n%256), 64, 128, 0), h, w, gocv.MatTypeCV8UC3)
}

// EncodeBase64 encodes mat in the given extension (".png", ".jpg") and
// returns standard base64, optionally with a data URL prefix.
func EncodeBase64(mat gocv.Mat, ext gocv.FileExt, withPrefix bool) (string, error) {
	buf, err := gocv.IMEncode(ext, mat)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	encoded := base64.StdEncoding.EncodeToString(buf.GetBytes())
	if !withPrefix {
		return encoded, nil
	}
	mime := "image/jpeg"
	if ext == gocv.PNGFileExt {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + encoded, nil
}

// GradientBase64 is a convenience for a PNG-encoded GradientFrame.
func GradientBase64(w, h int, withPrefix bool) (string, error) {
	mat := GradientFrame(w, h)
	defer mat.Close()
	return EncodeBase64(mat, gocv.PNGFileExt, withPrefix)
}

// WriteVideo writes an MJPG .avi with frames NumberedFrame(0..count-1).
// It returns an error when the local OpenCV build cannot write video.
func WriteVideo(path string, count int, fps float64, w, h int) error {
	writer, err := gocv.VideoWriterFile(path, "MJPG", fps, w, h, true)
	if err != nil {
		return fmt.Errorf("open video writer: %w", err)
	}
	defer writer.Close()

	if !writer.IsOpened() {
		return fmt.Errorf("video writer for %s not opened", path)
	}

	for i := 0; i < count; i++ {
		frame := NumberedFrame(w, h, i)
		err := writer.Write(frame)
		frame.Close()
		if err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return nil
}
