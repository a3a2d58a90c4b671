package ftp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ThatOdieGuy/basic-ftp/internal/ratelimit"
)

// Option is a functional option for configuring an FTP client.
type Option func(*Client) error

// WithTimeout sets the timeout for connection and operations.
// This applies to both the control and data sockets; a timeout on either
// fails the current operation and closes the client. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("negative timeout: %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithIdleTimeout sets the maximum idle time before sending NOOP keep-alive.
// If the connection is idle for longer than this duration, a NOOP command
// will be sent automatically to prevent the server from closing the
// connection. The keep-alive never interleaves with a pending operation.
// Set to 0 to disable automatic keep-alive.
//
// Example:
//
//	client, _ := ftp.Dial("ftp.example.com:21",
//	    ftp.WithIdleTimeout(5*time.Minute),
//	)
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.idleTimeout = timeout
		return nil
	}
}

// WithExplicitTLS enables explicit TLS mode (AUTH TLS).
// The client connects on the standard FTP port (21) and upgrades to TLS
// using the AUTH TLS command. This is the recommended mode for FTPS.
//
// The provided tls.Config should include the ServerName for certificate
// validation. A ClientSessionCache will be automatically added if not
// present so data connections can resume the control session.
func WithExplicitTLS(config *tls.Config) Option {
	return func(c *Client) error {
		if c.tlsMode == tlsModeImplicit {
			return fmt.Errorf("explicit TLS cannot be combined with implicit TLS")
		}
		if config == nil {
			config = &tls.Config{}
		}
		if config.ClientSessionCache == nil {
			config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		c.tlsConfig = config
		c.tlsMode = tlsModeExplicit
		return nil
	}
}

// WithImplicitTLS enables implicit TLS mode.
// The client connects directly with TLS, typically on port 990.
// This is a legacy mode but still used by some servers.
func WithImplicitTLS(config *tls.Config) Option {
	return func(c *Client) error {
		if c.tlsMode == tlsModeExplicit {
			return fmt.Errorf("implicit TLS cannot be combined with explicit TLS")
		}
		if config == nil {
			config = &tls.Config{}
		}
		if config.ClientSessionCache == nil {
			config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
		}
		c.tlsConfig = config
		c.tlsMode = tlsModeImplicit
		return nil
	}
}

// WithLogger enables debug logging using the provided logger.
// All FTP commands and responses will be logged at debug level, with the
// PASS argument redacted.
//
// Example:
//
//	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
//	    Level: slog.LevelDebug,
//	}))
//	client, _ := ftp.Dial("ftp.example.com:21", ftp.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for establishing connections.
// This can be used to configure source addresses, keep-alive settings, etc.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *Client) error {
		c.dialer = dialer
		return nil
	}
}

// WithDisableEPSV disables the use of the EPSV command.
// By default, the client tries EPSV before falling back to PASV.
// This option forces the client to use PASV directly, which can be useful
// for servers that don't support EPSV correctly or are behind firewalls
// that block EPSV.
func WithDisableEPSV() Option {
	return func(c *Client) error {
		c.disableEPSV = true
		return nil
	}
}

// WithPassiveParser installs a custom parser for passive-mode replies,
// replacing the built-in EPSV/PASV negotiation. The client sends PASV and
// hands the reply message to the parser.
func WithPassiveParser(parser PassiveParser) Option {
	return func(c *Client) error {
		if parser == nil {
			return fmt.Errorf("nil passive parser")
		}
		c.passiveParser = parser
		return nil
	}
}

// WithBandwidthLimit throttles uploads and downloads to the given number of
// bytes per second. Zero or negative disables throttling.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		c.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// tlsMode represents the TLS mode for the connection.
type tlsMode int

const (
	tlsModeNone tlsMode = iota
	tlsModeExplicit
	tlsModeImplicit
)
