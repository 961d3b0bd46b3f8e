package mimetype

import "testing"

func TestForPathKnownExtension(t *testing.T) {
	if got := ForPath("/a/b/index.html"); got != "text/html" {
		t.Fatalf("got %q", got)
	}
}

func TestForPathCaseInsensitive(t *testing.T) {
	if got := ForPath("photo.JPG"); got != "image/jpeg" {
		t.Fatalf("got %q", got)
	}
}

func TestForPathUnknownExtensionFallsBack(t *testing.T) {
	if got := ForPath("archive.xyz"); got != Fallback {
		t.Fatalf("got %q", got)
	}
}

func TestForPathNoExtension(t *testing.T) {
	if got := ForPath("README"); got != Fallback {
		t.Fatalf("got %q", got)
	}
}

func TestForPathTrailingDot(t *testing.T) {
	if got := ForPath("name."); got != Fallback {
		t.Fatalf("got %q", got)
	}
}
