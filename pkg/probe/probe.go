// Package probe verifies that a proxy transport carries traffic end to
// end, using a DNS query over TCP through the tunnel as the witness.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Jigsaw-Code/outline-sdk/dns"
	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
	"github.com/Jigsaw-Code/outline-sdk/x/connectivity"
)

// TunnelError describes a tunnel check that connected but failed inside
// the tunnel, keeping the failing operation and the POSIX error when one
// is available.
type TunnelError struct {
	Op         string
	PosixError string
	Err        error
}

func (e *TunnelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, findBaseError(e.Err))
	}
	return e.Op
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}

// CheckTunnel resolves domain through the transport with a TCP DNS query
// to resolver. A nil return means the tunnel carried the query and the
// response end to end.
func CheckTunnel(ctx context.Context, transportConfig, resolver, domain string) error {
	dialer, err := configurl.NewDefaultConfigToDialer().NewStreamDialer(transportConfig)
	if err != nil {
		return fmt.Errorf("could not create dialer: %w", err)
	}
	return checkWithDialer(ctx, dialer, resolver, domain)
}

func checkWithDialer(ctx context.Context, dialer transport.StreamDialer, resolver, domain string) error {
	resolverAddress := net.JoinHostPort(resolver, "53")
	dnsResolver := dns.NewTCPResolver(dialer, resolverAddress)

	result, err := connectivity.TestConnectivityWithResolver(ctx, dnsResolver, domain)
	if err != nil {
		return fmt.Errorf("tunnel check failed: %w", err)
	}
	if result != nil {
		return &TunnelError{Op: result.Op, PosixError: result.PosixError, Err: result.Err}
	}
	return nil
}

// Classify maps a check error to a short, stable reason string suitable
// for storing on a record.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var tunnelErr *TunnelError
	if errors.As(err, &tunnelErr) {
		return "tunnel " + tunnelErr.Op
	}
	msg := findBaseError(err).Error()
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}

// findBaseError unwraps an error chain to find the most basic underlying error
func findBaseError(err error) error {
	for err != nil {
		// Try to unwrap as joined errors first
		if unwrapInterface, ok := err.(interface{ Unwrap() []error }); ok {
			errs := unwrapInterface.Unwrap()
			if len(errs) > 0 {
				// Take the last error in the joined slice as it's likely
				// to be the most specific one
				err = errs[len(errs)-1]
				continue
			}
		}

		// Try to unwrap as single error
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			// We've reached the base error
			return err
		}
		err = unwrapped
	}
	return err
}
