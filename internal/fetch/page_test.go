package fetch

import (
	"net/url"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("http://exampleonionaddress.onion/docs/")
	if err != nil {
		t.Fatal(err)
	}

	content := `<!DOCTYPE html>
<html>
<head><title>
  Directory
</title></head>
<body>
  <a href="page.html">relative</a>
  <a href="/root">absolute path</a>
  <a href="page.html">duplicate</a>
  <a href="http://exampleonionaddress.onion/self">self</a>
  <a href="http://otheronionaddress.onion/">other onion</a>
  <a href="https://example.com/">clearnet</a>
  <a href="mailto:admin@example.com">mail</a>
  <a href="javascript:void(0)">js</a>
  <a href="#">anchor</a>
  <a>no href</a>
</body>
</html>`

	page, err := Parse(strings.NewReader(content), base)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if page.Title != "Directory" {
		t.Errorf("Title = %q, want %q", page.Title, "Directory")
	}

	wantLinks := []string{
		"http://exampleonionaddress.onion/docs/page.html",
		"http://exampleonionaddress.onion/root",
		"http://exampleonionaddress.onion/self",
		"http://otheronionaddress.onion/",
		"https://example.com/",
	}
	if len(page.Links) != len(wantLinks) {
		t.Fatalf("Links = %v, want %v", page.Links, wantLinks)
	}
	for i, want := range wantLinks {
		if page.Links[i] != want {
			t.Errorf("Links[%d] = %q, want %q", i, page.Links[i], want)
		}
	}

	if len(page.OnionLinks) != 1 || page.OnionLinks[0] != "http://otheronionaddress.onion/" {
		t.Errorf("OnionLinks = %v, want [http://otheronionaddress.onion/]", page.OnionLinks)
	}
}

func TestParseWithoutBase(t *testing.T) {
	t.Parallel()

	page, err := Parse(strings.NewReader(`<a href="http://otheronionaddress.onion/x">x</a>`), nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if page.Title != "" {
		t.Errorf("Title = %q, want empty", page.Title)
	}
	if len(page.OnionLinks) != 1 {
		t.Errorf("OnionLinks = %v, want one link", page.OnionLinks)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("http://example.onion/a/b")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		href string
		want string
	}{
		{"relative", "c", "http://example.onion/a/c"},
		{"parent", "../d", "http://example.onion/d"},
		{"absolute", "https://example.com/", "https://example.com/"},
		{"whitespace", "  c  ", "http://example.onion/a/c"},
		{"empty", "", ""},
		{"fragment only", "#", ""},
		{"tel", "tel:+100", ""},
		{"data", "DATA:text/plain,hi", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := resolveURL(base, tt.href); got != tt.want {
				t.Errorf("resolveURL(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}
