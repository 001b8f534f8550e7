package mdns

import (
	"net"
	"testing"
)

func TestUsableInterface(t *testing.T) {
	tests := []struct {
		name  string
		flags net.Flags
		want  bool
	}{
		{"up multicast", net.FlagUp | net.FlagMulticast, true},
		{"down", net.FlagMulticast, false},
		{"loopback", net.FlagUp | net.FlagLoopback | net.FlagMulticast, false},
		{"no multicast", net.FlagUp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ifc := net.Interface{Flags: tt.flags}
			if got := usableInterface(ifc); got != tt.want {
				t.Errorf("usableInterface(%v) = %v, want %v", tt.flags, got, tt.want)
			}
		})
	}
}

func TestInterfaceIPv4s(t *testing.T) {
	mustCIDR := func(s string) *net.IPNet {
		ip, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			t.Fatal(err)
		}
		ipnet.IP = ip
		return ipnet
	}

	addrs := []net.Addr{
		mustCIDR("192.168.1.5/24"),
		mustCIDR("127.0.0.1/8"),      // loopback: skipped
		mustCIDR("fe80::1/64"),       // IPv6: skipped
		&net.IPAddr{IP: net.ParseIP("10.0.0.9")},
	}

	ips := interfaceIPv4s(addrs)
	if len(ips) != 2 {
		t.Fatalf("interfaceIPv4s() = %v, want 2 addresses", ips)
	}
	if ips[0].String() != "192.168.1.5" || ips[1].String() != "10.0.0.9" {
		t.Errorf("interfaceIPv4s() = %v, want [192.168.1.5 10.0.0.9]", ips)
	}
}

func TestNetworkManager_IsLocal(t *testing.T) {
	nm := NewNetworkManager(nil)
	nm.localIPs = []net.IP{net.ParseIP("192.168.1.5").To4()}

	if !nm.IsLocal(net.ParseIP("192.168.1.5")) {
		t.Error("IsLocal() = false for a bound address")
	}
	if nm.IsLocal(net.ParseIP("192.168.1.6")) {
		t.Error("IsLocal() = true for a foreign address")
	}
	if nm.IsLocal(nil) {
		t.Error("IsLocal(nil) = true")
	}
}

func TestNetworkManager_CloseIdempotent(t *testing.T) {
	nm := NewNetworkManager(nil)

	if nm.Disposed() {
		t.Error("Disposed() = true before Close")
	}
	if err := nm.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := nm.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !nm.Disposed() {
		t.Error("Disposed() = false after Close")
	}
	if got := nm.SendSockets(); len(got) != 0 {
		t.Errorf("SendSockets() after Close = %d, want 0", len(got))
	}
}
