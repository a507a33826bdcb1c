// Package discovery locates saned instances advertised over mDNS.
// Network-enabled SANE installations publish the service type
// "_sane-port._tcp" alongside the daemon.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// serviceType is the mDNS service saned registers under.
const serviceType = "_sane-port._tcp"

// Server is one saned instance found on the local network.
type Server struct {
	Instance string // mDNS instance name
	Host     string // address to dial, preferring IPv4
	Port     int
}

// Options configures a discovery run.
type Options struct {
	Timeout time.Duration // default 5s
}

// FindServers browses the local network for saned instances until the
// timeout or context expires and returns everything found.
func FindServers(ctx context.Context, opts Options) ([]Server, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var servers []Server
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			server := Server{Instance: entry.Instance, Port: entry.Port}
			switch {
			case len(entry.AddrIPv4) > 0:
				server.Host = entry.AddrIPv4[0].String()
			case len(entry.AddrIPv6) > 0:
				server.Host = entry.AddrIPv6[0].String()
			default:
				server.Host = entry.HostName
			}
			slog.Debug("saned instance found", "instance", server.Instance, "host", server.Host, "port", server.Port)
			servers = append(servers, server)
		}
	}()

	if err := resolver.Browse(ctx, serviceType, "local.", entries); err != nil {
		return nil, err
	}
	<-ctx.Done()
	<-done
	return servers, nil
}

// FindServer returns the first saned instance found on the local
// network.
func FindServer(ctx context.Context, opts Options) (Server, error) {
	servers, err := FindServers(ctx, opts)
	if err != nil {
		return Server{}, err
	}
	if len(servers) == 0 {
		return Server{}, errors.New("no saned instance found")
	}
	return servers[0], nil
}

// Addr returns the server's host:port dial string.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
