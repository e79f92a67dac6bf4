package dataType

import (
	"net"
	"testing"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

func TestPrefixTrie(t *testing.T) {
	var trie PrefixTrie
	trie.Insert(mustCIDR(t, "10.0.0.0/8"))
	trie.Insert(mustCIDR(t, "192.168.1.7/32"))
	trie.Insert(mustCIDR(t, "fd00::/8"))

	if trie.Len() != 3 {
		t.Fatalf("Len = %d, want 3", trie.Len())
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"11.0.0.1", false},
		{"192.168.1.7", true},
		{"192.168.1.8", false},
		{"::ffff:10.9.9.9", true},
		{"fd12:3456::1", true},
		{"fe80::1", false},
	}
	for _, tt := range tests {
		if got := trie.Contains(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestPrefixTrie_Empty(t *testing.T) {
	var trie PrefixTrie
	if trie.Contains(net.ParseIP("127.0.0.1")) {
		t.Error("empty trie should not contain anything")
	}
	if trie.Contains(nil) {
		t.Error("nil ip should not match")
	}
}

func TestIdentityRecord_WithPresence(t *testing.T) {
	rec := IdentityRecord{Identity: "a@b.co"}
	got := rec.WithPresence(Presence{LastSeen: 7, IP: "10.0.0.5", Port: 5000})
	want := IdentityRecord{Identity: "a@b.co", LastSeen: 7, IP: "10.0.0.5", Port: 5000}
	if got != want {
		t.Errorf("WithPresence = %+v, want %+v", got, want)
	}
	if rec.IP != "" {
		t.Error("WithPresence mutated the receiver")
	}
}
