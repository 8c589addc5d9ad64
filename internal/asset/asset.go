// Package asset describes files uploaded to the external object store. The
// record is attached to other entities as-is; only the fields needed to render
// or replace the file are interpreted here.
package asset

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

var ErrInvalid = errors.New("asset: invalid record")

// Asset is the metadata returned by the object store for one upload.
type Asset struct {
	URL              string `json:"url"`
	SecureURL        string `json:"secureUrl,omitempty"`
	PublicID         string `json:"publicId,omitempty"`
	Format           string `json:"format,omitempty"`
	ResourceType     string `json:"resourceType,omitempty"`
	Bytes            int64  `json:"bytes,omitempty"`
	Width            *int   `json:"width,omitempty"`
	Height           *int   `json:"height,omitempty"`
	OriginalFilename string `json:"originalFilename,omitempty"`
	Kind             Kind   `json:"kind"`
}

// Href returns the URL clients should load, preferring the TLS variant.
func (a Asset) Href() string {
	if a.SecureURL != "" {
		return a.SecureURL
	}
	return a.URL
}

// Validate checks the fields this service relies on. want restricts the kind
// when non-empty.
func (a Asset) Validate(want Kind) error {
	if strings.TrimSpace(a.Href()) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	switch a.Kind {
	case KindImage, KindPDF:
	default:
		return fmt.Errorf("%w: kind must be image or pdf", ErrInvalid)
	}
	if want != "" && a.Kind != want {
		return fmt.Errorf("%w: kind must be %s", ErrInvalid, want)
	}
	if a.Bytes < 0 {
		return fmt.Errorf("%w: bytes must be >= 0", ErrInvalid)
	}
	return nil
}
