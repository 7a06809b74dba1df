package remotestore

import "testing"

func TestCartAndItemPaths(t *testing.T) {
	if got := CartPath("u1"); got != "carts/u1" {
		t.Fatalf("unexpected cart path %q", got)
	}
	if got := ItemPath("u1", "42"); got != "carts/u1/42" {
		t.Fatalf("unexpected item path %q", got)
	}
}

func TestSplit(t *testing.T) {
	cases := []struct {
		path     string
		wantCart string
		wantKey  string
	}{
		{"carts/u1", "carts/u1", ""},
		{"carts/u1/42", "carts/u1", "42"},
		{"/carts/u1/42/", "carts/u1", "42"},
		{"carts/u1/a/b", "carts/u1", "a/b"},
	}
	for _, tc := range cases {
		cart, key := Split(tc.path)
		if cart != tc.wantCart || key != tc.wantKey {
			t.Fatalf("Split(%q) = (%q, %q), want (%q, %q)", tc.path, cart, key, tc.wantCart, tc.wantKey)
		}
	}
}

func TestItemPathRoundTripsThroughSplit(t *testing.T) {
	cart, key := Split(ItemPath("u9", "p3"))
	if cart != CartPath("u9") || key != "p3" {
		t.Fatalf("round trip gave (%q, %q)", cart, key)
	}
}
