// Package prober implements reachability probing: a pure, stateless
// pair of connectivity primitives used by the hybrid router to pick an
// access mode. Neither primitive performs protocol negotiation —
// ProbeSsh never speaks SSH, it only completes a TCP handshake;
// ProbeCloud never issues an HTTP request, it only resolves a name.
//
// DetectMode's two probes run to completion independently of one
// another — a cloud timeout is not a reason to abandon the SSH probe.
package prober

import (
	"context"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// Default probe timeouts.
const (
	DefaultSshTimeout   = 3 * time.Second
	DefaultCloudTimeout = 5 * time.Second
)

// Dialer abstracts the network dial so tests can inject a fake without a
// real socket. Defaults to net.Dialer.DialContext.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Resolver abstracts DNS lookup so tests can inject a fake resolver.
// Defaults to net.DefaultResolver.LookupHost.
type Resolver func(ctx context.Context, host string) ([]string, error)

// Prober holds the dial/resolve primitives used by the probe functions.
// The zero value has no primitives; construct one with New (real network
// dialing and resolution) or NewWithPrimitives.
type Prober struct {
	dial    Dialer
	resolve Resolver
}

// New returns a Prober backed by the real network stack.
func New() *Prober {
	dialer := &net.Dialer{}

	return &Prober{
		dial:    dialer.DialContext,
		resolve: net.DefaultResolver.LookupHost,
	}
}

// NewWithPrimitives returns a Prober backed by the given dial/resolve
// primitives, for testing.
func NewWithPrimitives(dial Dialer, resolve Resolver) *Prober {
	return &Prober{dial: dial, resolve: resolve}
}

// ProbeSsh opens a raw TCP connection to host:port and closes it
// immediately on success. It never performs SSH key exchange. Returns
// false on any error, including timeout.
func (p *Prober) ProbeSsh(ctx context.Context, host, port string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return false
	}

	conn.Close()

	return true
}

// ProbeCloud resolves host via DNS within timeout. Returns true on any
// A/AAAA answer, false on timeout or resolver error.
func (p *Prober) ProbeCloud(ctx context.Context, host string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := p.resolve(ctx, host)
	if err != nil {
		return false
	}

	return len(addrs) > 0
}

// Status is the result of DetectMode.
type Status struct {
	Ssh   bool
	Cloud bool
}

// DetectMode runs ProbeSsh and ProbeCloud concurrently and returns both
// results. Neither probe's failure aborts the other — errgroup is used
// purely for fan-out/wait here, its functions never return an error.
func (p *Prober) DetectMode(ctx context.Context, sshHost, sshPort, cloudHost string, sshTimeout, cloudTimeout time.Duration) Status {
	var status Status

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		status.Ssh = p.ProbeSsh(gctx, sshHost, sshPort, sshTimeout)
		return nil
	})

	g.Go(func() error {
		status.Cloud = p.ProbeCloud(gctx, cloudHost, cloudTimeout)
		return nil
	})

	_ = g.Wait()

	return status
}
