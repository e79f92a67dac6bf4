package dataType

import "net"

type trieNode struct {
	children [2]*trieNode
	isEnd    bool
}

func (n *trieNode) insert(ip net.IP, ones int) {
	current := n
	for i := 0; i < ones; i++ {
		bit := (ip[i/8] >> (7 - uint(i%8))) & 1
		if current.children[bit] == nil {
			current.children[bit] = &trieNode{}
		}
		current = current.children[bit]
	}
	current.isEnd = true
}

func (n *trieNode) search(ip net.IP) bool {
	current := n
	for i := 0; i < len(ip)*8; i++ {
		if current.isEnd {
			return true
		}
		bit := (ip[i/8] >> (7 - uint(i%8))) & 1
		if current.children[bit] == nil {
			return false
		}
		current = current.children[bit]
	}
	return current.isEnd
}

// PrefixTrie answers "is this address inside any of the inserted networks"
// for both address families.
type PrefixTrie struct {
	v4    trieNode
	v6    trieNode
	count int
}

// Insert adds a network. IPv4-mapped IPv6 networks are stored as IPv4.
func (t *PrefixTrie) Insert(ipNet *net.IPNet) {
	ones, bits := ipNet.Mask.Size()
	if ip4 := ipNet.IP.To4(); ip4 != nil && bits == 32 {
		t.v4.insert(ip4, ones)
	} else if ip6 := ipNet.IP.To16(); ip6 != nil && bits == 128 {
		t.v6.insert(ip6, ones)
	} else {
		return
	}
	t.count++
}

// Contains reports whether ip falls inside an inserted network.
func (t *PrefixTrie) Contains(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return t.v4.search(ip4)
	}
	if ip6 := ip.To16(); ip6 != nil {
		return t.v6.search(ip6)
	}
	return false
}

// Len returns the number of inserted networks.
func (t *PrefixTrie) Len() int {
	return t.count
}
