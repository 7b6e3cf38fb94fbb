package whitelist

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpAddr(ip string) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000}
}

// TestAdmit covers the 10.0.0.0/8 scenario and friends
func TestAdmit(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		addr    net.Addr
		want    bool
	}{
		{
			name:    "outside range rejected",
			entries: []string{"10.0.0.0/8"},
			addr:    tcpAddr("192.168.1.5"),
			want:    false,
		},
		{
			name:    "inside range admitted",
			entries: []string{"10.0.0.0/8"},
			addr:    tcpAddr("10.1.2.3"),
			want:    true,
		},
		{
			name:    "empty list admits everything",
			entries: nil,
			addr:    tcpAddr("203.0.113.9"),
			want:    true,
		},
		{
			name:    "second range matches",
			entries: []string{"10.0.0.0/8", "192.168.0.0/16"},
			addr:    tcpAddr("192.168.1.5"),
			want:    true,
		},
		{
			name:    "bare address matches exactly",
			entries: []string{"127.0.0.1"},
			addr:    tcpAddr("127.0.0.1"),
			want:    true,
		},
		{
			name:    "bare address does not match neighbour",
			entries: []string{"127.0.0.1"},
			addr:    tcpAddr("127.0.0.2"),
			want:    false,
		},
		{
			name:    "ipv4-mapped ipv6 peer",
			entries: []string{"10.0.0.0/8"},
			addr:    &net.TCPAddr{IP: net.ParseIP("::ffff:10.9.8.7")},
			want:    true,
		},
		{
			name:    "ipv6 range",
			entries: []string{"2001:db8::/32"},
			addr:    tcpAddr("2001:db8::1"),
			want:    true,
		},
		{
			name:    "ipv6 peer outside ipv4 range",
			entries: []string{"10.0.0.0/8"},
			addr:    tcpAddr("2001:db8::1"),
			want:    false,
		},
		{
			name:    "nil address rejected when list is set",
			entries: []string{"10.0.0.0/8"},
			addr:    nil,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(tt.entries)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Admit(tt.addr))
			// Deterministic: same answer on repeat
			assert.Equal(t, tt.want, w.Admit(tt.addr))
		})
	}
}

func TestAdmitGenericAddr(t *testing.T) {
	w := MustNew("10.0.0.0/8")

	addr, err := net.ResolveUDPAddr("udp", "10.0.0.1:53")
	require.NoError(t, err)
	assert.True(t, w.Admit(addr))

	assert.True(t, w.Admit(fakeAddr("10.2.3.4:99")))
	assert.False(t, w.Admit(fakeAddr("not-an-address")))
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	for _, entry := range []string{"10.0.0.0/33", "not-a-cidr/8", "300.1.1.1", "host.example.org"} {
		t.Run(entry, func(t *testing.T) {
			_, err := New([]string{entry})
			assert.Error(t, err)
		})
	}
}

func TestEntriesAreCanonical(t *testing.T) {
	w, err := New([]string{" 10.1.2.3/8 ", "", "192.168.1.1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1/32"}, w.Entries())
	assert.False(t, w.Empty())

	empty, err := New(nil)
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	var nilList *Whitelist
	assert.True(t, nilList.AdmitIP(netip.MustParseAddr("1.2.3.4")))
}

type fakeAddr string

func (f fakeAddr) Network() string { return "fake" }
func (f fakeAddr) String() string  { return string(f) }
