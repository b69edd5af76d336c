package tools

import (
	"encoding/base64"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSavePNG_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shots", "out.png")
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	if err := savePNG(path, img); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// PNG magic bytes.
	if len(data) < 8 || data[0] != 0x89 || string(data[1:4]) != "PNG" {
		t.Errorf("file is not a PNG: % x", data[:min(8, len(data))])
	}
}

func TestPNGDataURL(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	url, err := pngDataURL(img)
	if err != nil {
		t.Fatal(err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("url = %q", url)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	if len(raw) < 8 || string(raw[1:4]) != "PNG" {
		t.Error("decoded payload is not a PNG")
	}
}
