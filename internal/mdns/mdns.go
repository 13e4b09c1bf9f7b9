// Package mdns advertises publisher endpoints on the local network and
// finds them again, so subscribers need not be configured with addresses.
package mdns

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/router"
)

const (
	// Service is the DNS-SD service type of sdrstream publishers.
	Service = "_sdrstream._tcp"
	domain  = "local."
)

// Host represents a discovered publisher.
type Host struct {
	Instance   string // Advertised name: "sdrstream time"
	Hostname   string // DNS hostname: "pluto.local."
	Addresses  []net.IP
	Port       int
	TXT        []string
	Descriptor router.Descriptor
}

// Advertisement is a registered service; Shutdown withdraws it.
type Advertisement struct {
	server *zeroconf.Server
}

// Shutdown stops answering queries for the service.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Advertise announces the channel published at desc.Address, which must
// be a tcp:// address with an explicit port.
func Advertise(instance string, desc router.Descriptor) (*Advertisement, error) {
	port, err := PortOf(desc.Address)
	if err != nil {
		return nil, err
	}
	if instance == "" {
		instance = "sdrstream " + desc.Name
	}
	server, err := zeroconf.Register(instance, Service, domain, port, TXT(desc), nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", instance, err)
	}
	return &Advertisement{server: server}, nil
}

// TXT renders the channel description carried in the service record.
func TXT(desc router.Descriptor) []string {
	role := desc.Role
	if role == "" {
		role = router.RoleRaw
	}
	return []string{
		"channel=" + desc.Name,
		"type=" + desc.Type.String(),
		"role=" + string(role),
	}
}

// PortOf extracts the port of a tcp:// address.
func PortOf(address string) (int, error) {
	u, err := url.Parse(address)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", address, err)
	}
	if u.Scheme != "tcp" {
		return 0, fmt.Errorf("only tcp addresses can be advertised, got %q", address)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("no port in %q", address)
	}
	return port, nil
}

// Discover performs a blocking mDNS browse for sdrstream publishers until
// ctx is done. It returns deduplicated entries sorted by channel name.
func Discover(ctx context.Context) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

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
				h := hostFromEntry(e)
				resultMap[fmt.Sprintf("%s|%d|%s", e.HostName, e.Port, h.Descriptor.Name)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Descriptor.Name != out[j].Descriptor.Name {
			return out[i].Descriptor.Name < out[j].Descriptor.Name
		}
		return out[i].Hostname < out[j].Hostname
	})
	return out, nil
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	h := Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
	h.Descriptor = descriptorFromTXT(h.TXT)
	h.Descriptor.Address = h.Address()
	return h
}

// Address is the tcp:// address subscribers should connect to, preferring
// IPv4 and falling back to the hostname.
func (h Host) Address() string {
	host := strings.TrimSuffix(h.Hostname, ".")
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(h.Addresses) > 0 {
		host = h.Addresses[0].String()
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(h.Port))
}

func descriptorFromTXT(txt []string) router.Descriptor {
	kv := parseTXT(txt)
	desc := router.Descriptor{Name: kv["channel"], Role: router.Role(kv["role"])}
	if t, err := frame.ParseElementType(kv["type"]); err == nil {
		desc.Type = t
	}
	return desc
}

func parseTXT(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, rec := range txt {
		k, v, _ := strings.Cut(rec, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
