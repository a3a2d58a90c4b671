package ftp

import (
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// pasvRegex matches the endpoint in a 227 reply:
	// "227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)"
	pasvRegex = regexp.MustCompile(`([-\d]+,[-\d]+,[-\d]+,[-\d]+),([-\d]+),([-\d]+)`)

	// epsvRegex matches the EPSV response format: 229 Entering Extended Passive Mode (|||port|)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// PassiveParser turns a passive-mode reply message into the data endpoint
// to dial. A parser returns ok=false when the message does not match its
// format. The host may be empty, in which case the control host is used.
type PassiveParser func(message string) (host string, port int, ok bool)

// parsePASV extracts the host and port from a 227 reply.
// Example: "227 Entering Passive Mode (192,168,1,1,195,149)"
// yields host "192.168.1.1" and port 195*256+149 = 50069.
func parsePASV(message string) (string, int, bool) {
	matches := pasvRegex.FindStringSubmatch(message)
	if len(matches) != 4 {
		return "", 0, false
	}

	host := strings.ReplaceAll(matches[1], ",", ".")
	p1, err1 := strconv.Atoi(matches[2])
	p2, err2 := strconv.Atoi(matches[3])
	if err1 != nil || err2 != nil {
		return "", 0, false
	}
	port := (p1&0xFF)*256 + (p2 & 0xFF)

	return host, port, true
}

// parseEPSV extracts the port from a 229 reply.
// Example: "229 Entering Extended Passive Mode (|||6446|)" yields 6446.
// EPSV replies carry no host; the control host is reused.
func parseEPSV(message string) (string, int, bool) {
	matches := epsvRegex.FindStringSubmatch(message)
	if len(matches) != 2 {
		return "", 0, false
	}

	port, err := strconv.Atoi(matches[1])
	if err != nil || port < 0 || port > 65535 {
		return "", 0, false
	}
	return "", port, true
}

// resolveDataHost substitutes the control-connection host when the server
// announces a wildcard or no host at all.
func resolveDataHost(host, controlHost string) string {
	if host == "" || host == "0.0.0.0" {
		return controlHost
	}
	return host
}

// openDataConn prepares the data connection for the next transfer command:
// it negotiates a passive endpoint, dials it, wraps it in TLS when the
// control channel is secured, and installs it as the dispatcher's data
// socket.
func (c *Client) openDataConn() error {
	addr, err := c.negotiatePassive()
	if err != nil {
		return err
	}

	dataConn, err := c.dialer.Dial("tcp", addr)
	if err != nil {
		return &DialError{Addr: addr, Err: err}
	}

	// Reuse the control channel's TLS options (and session cache) so the
	// server can verify both connections belong to the same session.
	if c.secured {
		tlsConn := tls.Client(dataConn, c.tlsConfig)
		if c.timeout > 0 {
			_ = tlsConn.SetDeadline(time.Now().Add(c.timeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			dataConn.Close()
			return &TLSError{Err: err}
		}
		_ = tlsConn.SetDeadline(time.Time{})
		dataConn = tlsConn
	}

	c.d.setDataSocket(dataConn)
	return nil
}

// negotiatePassive asks the server for a passive endpoint. EPSV is tried
// first unless disabled, with a one-way fallback to PASV when the server
// does not implement it. A configured custom parser takes over the whole
// negotiation.
func (c *Client) negotiatePassive() (string, error) {
	if c.passiveParser != nil {
		resp, err := c.Send("PASV")
		if err != nil {
			return "", err
		}
		host, port, ok := c.passiveParser(resp.Message)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrBadPasvReply, resp.Message)
		}
		return net.JoinHostPort(resolveDataHost(host, c.host), strconv.Itoa(port)), nil
	}

	if !c.disableEPSV {
		resp, err := c.sendIgnoringErrorCodes("EPSV")
		if err != nil {
			return "", err
		}
		switch {
		case resp.Code == 502:
			// Not implemented; don't ask again
			c.disableEPSV = true
		case resp.Is2xx():
			if _, port, ok := parseEPSV(resp.Message); ok {
				return net.JoinHostPort(c.host, strconv.Itoa(port)), nil
			}
		}
	}

	resp, err := c.Send("PASV")
	if err != nil {
		return "", err
	}
	host, port, ok := parsePASV(resp.Message)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadPasvReply, resp.Message)
	}

	return net.JoinHostPort(resolveDataHost(host, c.host), strconv.Itoa(port)), nil
}
