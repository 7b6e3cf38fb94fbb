package whitelist

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Whitelist decides which peers may connect. It is immutable once built.
type Whitelist struct {
	prefixes []netip.Prefix
}

// New parses CIDR ranges or single addresses. An empty list admits everyone.
func New(entries []string) (*Whitelist, error) {
	w := &Whitelist{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		w.prefixes = append(w.prefixes, prefix)
	}
	return w, nil
}

// MustNew is New for static lists known to be valid
func MustNew(entries ...string) *Whitelist {
	w, err := New(entries)
	if err != nil {
		panic(err)
	}
	return w
}

// Admit reports whether a connection from addr is allowed
func (w *Whitelist) Admit(addr net.Addr) bool {
	if w == nil || len(w.prefixes) == 0 {
		return true
	}
	ip, ok := addrIP(addr)
	if !ok {
		return false
	}
	return w.AdmitIP(ip)
}

// AdmitIP reports whether ip falls inside at least one configured range
func (w *Whitelist) AdmitIP(ip netip.Addr) bool {
	if w == nil || len(w.prefixes) == 0 {
		return true
	}
	ip = ip.Unmap()
	for _, p := range w.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Empty reports whether every address is admitted
func (w *Whitelist) Empty() bool {
	return w == nil || len(w.prefixes) == 0
}

// Entries returns the configured ranges in canonical form
func (w *Whitelist) Entries() []string {
	if w == nil {
		return nil
	}
	out := make([]string, 0, len(w.prefixes))
	for _, p := range w.prefixes {
		out = append(out, p.String())
	}
	return out
}

// parseEntry handles single addresses as host prefixes (/32 or /128)
func parseEntry(entry string) (netip.Prefix, error) {
	if !strings.Contains(entry, "/") {
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid whitelist address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}

	prefix, err := netip.ParsePrefix(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid whitelist CIDR %q: %w", entry, err)
	}
	if prefix.Addr().Is4In6() {
		bits := prefix.Bits() - 96
		if bits < 0 {
			return netip.Prefix{}, fmt.Errorf("invalid whitelist CIDR %q: mapped prefix shorter than /96", entry)
		}
		prefix = netip.PrefixFrom(prefix.Addr().Unmap(), bits)
	}
	return prefix.Masked(), nil
}

func addrIP(addr net.Addr) (netip.Addr, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip, ok := netip.AddrFromSlice(a.IP)
		return ip.Unmap(), ok
	case *net.UDPAddr:
		ip, ok := netip.AddrFromSlice(a.IP)
		return ip.Unmap(), ok
	case nil:
		return netip.Addr{}, false
	}

	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}
