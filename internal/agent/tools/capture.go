package tools

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbinani/screenshot"
)

// captureDisplay grabs one display as an image. Display 0 is the primary.
func captureDisplay(display int) (image.Image, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	if display < 0 || display >= n {
		return nil, fmt.Errorf("invalid display %d (have %d)", display, n)
	}
	bounds := screenshot.GetDisplayBounds(display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", display, err)
	}
	return img, nil
}

// savePNG writes an image as PNG, creating parent directories.
func savePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// pngDataURL encodes an image as a data: URL the chat UI can render inline.
func pngDataURL(img image.Image) (string, error) {
	var buf strings.Builder
	buf.WriteString("data:image/png;base64,")
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if err := png.Encode(enc, img); err != nil {
		return "", fmt.Errorf("encode PNG: %w", err)
	}
	enc.Close()
	return buf.String(), nil
}
