package address

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		host string
		port uint16
		path string
		want Kind
	}{
		{"inet4", "127.0.0.1", 80, "", KindInet4},
		{"inet6", "::1", 80, "", KindInet6},
		{"unix", "", 0, "/tmp/foo.sock", KindUnix},
		{"abstract", "", 0, "\x00msock-test", KindUnixAbstract},
		{"named-pipe", "", 0, `\\.\pipe\foo`, KindNamedPipe},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.host, c.port, c.path)
			if got.Kind != c.want {
				t.Fatalf("Classify(%q,%d,%q) kind = %v, want %v", c.host, c.port, c.path, got.Kind, c.want)
			}
		})
	}
}

func TestAddressStringRendersAbstractNUL(t *testing.T) {
	a := Address{Kind: KindUnixAbstract, Path: "\x00msock-test"}
	if got, want := a.String(), "@msock-test"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseHostPort(t *testing.T) {
	a, err := Parse("127.0.0.1:8080")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != KindInet4 || a.Host != "127.0.0.1" || a.Port != 8080 {
		t.Fatalf("unexpected parse result: %+v", a)
	}
}

func TestParseIPv6Bracketed(t *testing.T) {
	a, err := Parse("[::1]:9090")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != KindInet6 || a.Host != "::1" || a.Port != 9090 {
		t.Fatalf("unexpected parse result: %+v", a)
	}
}

func TestParseUnixPath(t *testing.T) {
	a, err := Parse("/var/run/msock.sock")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != KindUnix {
		t.Fatalf("expected KindUnix, got %v", a.Kind)
	}
}

func TestParseAbstractShorthand(t *testing.T) {
	a, err := Parse("@msock-test")
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != KindUnixAbstract {
		t.Fatalf("expected KindUnixAbstract, got %v", a.Kind)
	}
	if got, want := a.String(), "@msock-test"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
