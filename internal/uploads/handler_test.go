package uploads

import (
	"testing"

	"github.com/caltalk/bridge/config"
)

func TestTypeAllowed(t *testing.T) {
	h := &Handler{cfg: config.UploadsConfig{AllowedTypes: []string{"application/pdf", "image/*"}}}

	cases := []struct {
		contentType string
		want        bool
	}{
		{"application/pdf", true},
		{"Application/PDF", true},
		{"image/png", true},
		{"image/jpeg", true},
		{"video/mp4", false},
		{"application/zip", false},
	}
	for _, tc := range cases {
		if got := h.typeAllowed(tc.contentType); got != tc.want {
			t.Errorf("typeAllowed(%q) = %v, want %v", tc.contentType, got, tc.want)
		}
	}
}

func TestTypeAllowedUnrestricted(t *testing.T) {
	h := &Handler{cfg: config.UploadsConfig{}}
	if !h.typeAllowed("video/mp4") {
		t.Fatal("empty allow list must admit everything")
	}
}
