//go:build !darwin

package tools

import (
	"context"
	"errors"
)

func notesAction(_ context.Context, _ notesInput) (string, error) {
	return "", errors.New("备忘录仅支持 macOS (the notes tool requires the macOS Notes app)")
}
