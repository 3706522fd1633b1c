// Package mdns discovers network IIO contexts advertised over mDNS.
// Boards running iiod announce themselves as _iio._tcp services.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// Host is one discovered IIO context endpoint.
type Host struct {
	Instance  string // advertised name, e.g. "iiod on phaser"
	Hostname  string // DNS hostname, e.g. "phaser.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// URI renders the host as a context URI accepted by the iiod client.
func (h Host) URI() string {
	host := strings.TrimSuffix(h.Hostname, ".")
	if host == "" && len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	return "ip:" + net.JoinHostPort(host, strconv.Itoa(h.Port))
}

// Discover browses for _iio._tcp services until ctx expires and returns the
// deduplicated endpoints, sorted by hostname for stable output.
func Discover(ctx context.Context) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	seen := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)

				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				seen[key] = Host{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, "_iio._tcp", "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-done

	out := make([]Host, 0, len(seen))
	for _, h := range seen {
		out = append(out, h)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Hostname != out[b].Hostname {
			return out[a].Hostname < out[b].Hostname
		}
		return out[a].Port < out[b].Port
	})
	return out, nil
}

// cleanInstance removes zeroconf escape sequences: "\ " becomes " ".
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
