package download

import (
	"strings"
	"testing"
)

func TestDetectorIsChallenge(t *testing.T) {
	t.Parallel()

	d := NewDetector(nil)

	tests := []struct {
		name        string
		contentType string
		body        string
		ext         string
		want        bool
	}{
		{
			name:        "pdf served as pdf",
			contentType: "application/pdf",
			body:        "%PDF-1.7 binary payload",
			ext:         ".pdf",
			want:        false,
		},
		{
			name:        "html content type for pdf",
			contentType: "text/html; charset=utf-8",
			body:        "<p>error page</p>",
			ext:         ".pdf",
			want:        true,
		},
		{
			name:        "cloudflare marker with honest content type",
			contentType: "application/octet-stream",
			body:        "<html><title>Just a moment...</title></html>",
			ext:         ".zip",
			want:        true,
		},
		{
			name:        "html body sniffed for csv",
			contentType: "",
			body:        "  <!DOCTYPE html><html><body>blocked</body></html>",
			ext:         ".csv",
			want:        true,
		},
		{
			name:        "html page expected html",
			contentType: "text/html",
			body:        "<html><body>real listing</body></html>",
			ext:         ".html",
			want:        false,
		},
		{
			name:        "challenge marker on html page",
			contentType: "text/html",
			body:        "<html>Checking your browser before accessing</html>",
			ext:         ".html",
			want:        true,
		},
		{
			name:        "empty body",
			contentType: "application/pdf",
			body:        "",
			ext:         ".pdf",
			want:        false,
		},
		{
			name:        "marker past sniff window ignored",
			contentType: "application/zip",
			body:        strings.Repeat("x", challengeSniffLen) + "captcha",
			ext:         ".zip",
			want:        false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.IsChallenge(tt.contentType, []byte(tt.body), tt.ext)
			if got != tt.want {
				t.Fatalf("expected %v got %v", tt.want, got)
			}
		})
	}
}

func TestDetectorCustomMarkers(t *testing.T) {
	t.Parallel()

	d := NewDetector([]string{"Access Denied", "  ", ""})
	if !d.IsChallenge("application/pdf", []byte("<b>access denied by portal</b>"), ".pdf") {
		t.Fatal("expected custom marker to trigger")
	}
	if d.IsChallenge("application/pdf", []byte("just a moment"), ".pdf") {
		t.Fatal("default markers should be replaced by custom set")
	}
}

func TestDetectorNilReceiver(t *testing.T) {
	t.Parallel()

	var d *Detector
	if d.IsChallenge("text/html", []byte("<html>"), ".pdf") {
		t.Fatal("nil detector must pass everything")
	}
}
