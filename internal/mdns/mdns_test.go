package mdns

import (
	"net"
	"testing"
)

func TestHostURI(t *testing.T) {
	cases := []struct {
		host Host
		want string
	}{
		{Host{Hostname: "phaser.local.", Port: 30431}, "ip:phaser.local:30431"},
		{Host{Hostname: "pluto.local", Port: 12345}, "ip:pluto.local:12345"},
		{Host{Addresses: []net.IP{net.ParseIP("192.168.2.1")}, Port: 30431}, "ip:192.168.2.1:30431"},
	}
	for _, tc := range cases {
		if got := tc.host.URI(); got != tc.want {
			t.Errorf("URI() = %q, want %q", got, tc.want)
		}
	}
}

func TestCleanInstance(t *testing.T) {
	if got := cleanInstance(`iiod\ on\ phaser`); got != "iiod on phaser" {
		t.Errorf("cleanInstance = %q", got)
	}
}
