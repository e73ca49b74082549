package core

import "testing"

func TestParsePath(t *testing.T) {
	cases := []struct {
		in   string
		want Path
	}{
		{"demo/x.txt", Path{"demo", "x.txt"}},
		{"/demo/x.txt", Path{"demo", "x.txt"}},
		{"demo/dir/sub/x.txt", Path{"demo", "dir/sub/x.txt"}},
		{"demo", Path{"demo", ""}},
		{"demo/", Path{"demo", ""}},
		{"//demo", Path{"", "demo"}},
		{"", Path{}},
	}
	for _, c := range cases {
		if got := ParsePath(c.in); got != c.want {
			t.Fatalf("ParsePath(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestPathRoundTrip(t *testing.T) {
	for _, obj := range []string{"x", "a/b/c", "with space", "trailing/"} {
		p := Path{Container: "box", Object: obj}
		if got := ParsePath(p.String()); got != p {
			t.Fatalf("round trip of %+v gave %+v", p, got)
		}
		q := p.Concat(".bak")
		if got := ParsePath(q.String()); got != q {
			t.Fatalf("concat round trip of %+v gave %+v", q, got)
		}
	}
}

func TestConcat(t *testing.T) {
	c := ContainerPath("box")
	if !c.IsContainer() {
		t.Fatalf("container path should address a container")
	}
	p := c.Concat("logs").Concat("/a.txt")
	if p != (Path{"box", "logs/a.txt"}) || p.IsContainer() {
		t.Fatalf("concat: %+v", p)
	}
	if p.Concat("") != p {
		t.Fatalf("empty suffix must be a no-op")
	}
	if got := (Path{"box", "a"}).Concat("b"); got.Object != "ab" {
		t.Fatalf("no separator is inserted: %+v", got)
	}
}

func TestPathFromURL(t *testing.T) {
	base := "https://acct.example.com/"
	p, err := PathFromURL(base, "https://acct.example.com/box/dir/a%20b.txt?X-Amz-Signature=abc")
	if err != nil || p != (Path{"box", "dir/a b.txt"}) {
		t.Fatalf("PathFromURL: %+v %v", p, err)
	}
	p, err = PathFromURL("http://localhost:9000/root", "http://localhost:9000/root/box/x")
	if err != nil || p != (Path{"box", "x"}) {
		t.Fatalf("base with path: %+v %v", p, err)
	}
	if _, err := PathFromURL(base, "https://other.example.com/box/x"); err == nil {
		t.Fatalf("expected host mismatch error")
	}
	if _, err := PathFromURL(base, "https://acct.example.com/box/%zz"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := PathFromURL("://bad", "https://acct.example.com/box/x"); err == nil {
		t.Fatalf("expected base parse error")
	}
}
