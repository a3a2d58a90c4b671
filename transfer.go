package ftp

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ThatOdieGuy/basic-ftp/internal/ratelimit"
)

// socketWriter adapts the data socket to io.Writer for upload piping.
type socketWriter struct {
	s *socket
}

func (w socketWriter) Write(p []byte) (int, error) {
	if err := w.s.write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// List retrieves the directory listing for path (the server's current
// directory when empty) and returns the raw listing bytes. Callers apply
// their own listing parser; the wire format is server-defined.
//
// The listing is complete when the server closes the data connection; a
// 226 reply is tolerated before or after that point.
func (c *Client) List(path string) ([]byte, error) {
	if err := c.openDataConn(); err != nil {
		return nil, err
	}
	defer c.d.closeData()

	cmd := "LIST"
	if path != "" {
		cmd += " " + path
	}

	var buf bytes.Buffer
	_, err := c.dispatch(cmd, func(sig signal, t *task) {
		switch {
		case sig.err != nil:
			t.reject(sig.err)
		case sig.chunk != nil:
			buf.Write(sig.chunk)
		case sig.dataEnd:
			t.resolve(nil)
		case sig.resp != nil:
			if sig.resp.Code >= 400 {
				t.reject(&ProtocolError{
					Command:  "LIST",
					Response: sig.resp.Message,
					Code:     sig.resp.Code,
				})
			}
			// 150 opens the transfer, 226 may even arrive before the
			// data connection winds down; neither ends the listing
		}
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Store uploads data from an io.Reader to the remote path.
//
// Example:
//
//	file, err := os.Open("local.txt")
//	if err != nil {
//	    return err
//	}
//	defer file.Close()
//
//	err = client.Store("remote.txt", file)
func (c *Client) Store(remotePath string, r io.Reader) error {
	return c.store("STOR", remotePath, r)
}

// Append appends data from an io.Reader to the remote path.
// If the file doesn't exist, it will be created.
func (c *Client) Append(remotePath string, r io.Reader) error {
	return c.store("APPE", remotePath, r)
}

// store runs an upload command. The upload pipe starts on the 150 reply and
// half-closes the data connection at EOF; the task resolves on the server's
// 226, not on the data connection closing.
func (c *Client) store(verb, remotePath string, r io.Reader) error {
	if err := c.openDataConn(); err != nil {
		return err
	}
	defer c.d.closeData()

	src := ratelimit.NewReader(r, c.limiter)
	started := false

	_, err := c.dispatch(verb+" "+remotePath, func(sig signal, t *task) {
		switch {
		case sig.err != nil:
			t.reject(sig.err)
		case sig.resp != nil:
			resp := sig.resp
			switch {
			case resp.Code >= 400:
				t.reject(&ProtocolError{
					Command:  verb,
					Response: resp.Message,
					Code:     resp.Code,
				})
			case resp.Code == 226 || (resp.Is2xx() && started):
				t.resolve(resp)
			case resp.Code < 200 && !started:
				started = true
				sock := c.d.dataSocket()
				if sock == nil {
					t.reject(ErrClosed)
					return
				}
				go func() {
					_, copyErr := io.Copy(socketWriter{s: sock}, src)
					if copyErr != nil {
						c.d.injectError(sock, fmt.Errorf("upload failed: %w", copyErr))
						return
					}
					sock.closeWrite()
				}()
			}
			// the data connection closing is not by itself success
		}
	})
	return err
}

// StoreFrom uploads a local file to the remote path.
// This is a convenience wrapper around Store.
func (c *Client) StoreFrom(remotePath, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	return c.Store(remotePath, file)
}

// Retrieve downloads data from the remote path to an io.Writer.
//
// Example:
//
//	file, err := os.Create("local.txt")
//	if err != nil {
//	    return err
//	}
//	defer file.Close()
//
//	err = client.Retrieve("remote.txt", file)
func (c *Client) Retrieve(remotePath string, w io.Writer) error {
	return c.RetrieveFrom(remotePath, w, 0)
}

// RetrieveFrom downloads a file starting from the specified byte offset,
// resuming an interrupted download. With a non-zero offset the command
// sequence is REST <offset>, then RETR on the server's 350, all within one
// exchange. This implements RFC 3959 - The FTP REST Extension.
//
// Example:
//
//	file, err := os.OpenFile("large.bin", os.O_WRONLY|os.O_APPEND, 0644)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer file.Close()
//
//	info, _ := file.Stat()
//	err = client.RetrieveFrom("large.bin", file, info.Size())
func (c *Client) RetrieveFrom(remotePath string, w io.Writer, offset int64) error {
	if err := c.openDataConn(); err != nil {
		return err
	}
	defer c.d.closeData()

	dst := ratelimit.NewWriter(w, c.limiter)

	command := "RETR " + remotePath
	if offset > 0 {
		command = fmt.Sprintf("REST %d", offset)
	}

	// The final 226 arrives on the control socket while the last chunks are
	// still in flight on the data socket; the transfer is complete only
	// once both the data stream has ended and the server confirmed it.
	var (
		dataDone bool
		complete *Response
	)

	_, err := c.dispatch(command, func(sig signal, t *task) {
		switch {
		case sig.err != nil:
			t.reject(sig.err)
		case sig.chunk != nil:
			if _, werr := dst.Write(sig.chunk); werr != nil {
				t.reject(fmt.Errorf("download failed: %w", werr))
			}
		case sig.dataEnd:
			dataDone = true
			if complete != nil {
				t.resolve(complete)
			}
		case sig.resp != nil:
			resp := sig.resp
			switch {
			case resp.Code == 350:
				if werr := c.d.sendRaw("RETR " + remotePath); werr != nil {
					t.reject(&TransportError{Err: werr})
				}
			case resp.Code >= 400:
				t.reject(&ProtocolError{
					Command:  "RETR",
					Response: resp.Message,
					Code:     resp.Code,
				})
			case resp.Is2xx():
				complete = resp
				if dataDone {
					t.resolve(resp)
				}
			}
			// 150: bytes are about to flow
		}
	})
	return err
}

// RetrieveTo downloads a remote file to a local path.
// This is a convenience wrapper around Retrieve.
func (c *Client) RetrieveTo(remotePath, localPath string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	if err := c.Retrieve(remotePath, file); err != nil {
		// Drop the partial file
		file.Close()
		_ = os.Remove(localPath)
		return err
	}
	return nil
}
