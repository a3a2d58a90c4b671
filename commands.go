package ftp

import (
	"fmt"
	"strconv"
	"strings"
)

// ChangeDir changes the current working directory.
func (c *Client) ChangeDir(path string) error {
	_, err := c.Send("CWD " + path)
	return err
}

// CurrentDir returns the current working directory.
func (c *Client) CurrentDir() (string, error) {
	resp, err := c.Send("PWD")
	if err != nil {
		return "", err
	}

	// Parse the directory from the response
	// Example: 257 "/home/user" is the current directory
	msg := resp.Message
	start := strings.Index(msg, "\"")
	if start == -1 {
		return "", fmt.Errorf("invalid PWD response: %s", msg)
	}
	end := strings.Index(msg[start+1:], "\"")
	if end == -1 {
		return "", fmt.Errorf("invalid PWD response: %s", msg)
	}

	return msg[start+1 : start+1+end], nil
}

// MakeDir creates a new directory.
func (c *Client) MakeDir(path string) error {
	_, err := c.Send("MKD " + path)
	return err
}

// RemoveDir removes a directory.
func (c *Client) RemoveDir(path string) error {
	_, err := c.Send("RMD " + path)
	return err
}

// Delete deletes a file.
func (c *Client) Delete(path string) error {
	_, err := c.Send("DELE " + path)
	return err
}

// Rename renames a file or directory.
func (c *Client) Rename(from, to string) error {
	resp, err := c.Send("RNFR " + from)
	if err != nil {
		return err
	}

	if resp.Code != 350 {
		return &ProtocolError{
			Command:  "RNFR",
			Response: resp.Message,
			Code:     resp.Code,
		}
	}

	_, err = c.Send("RNTO " + to)
	return err
}

// Size returns the size of a file in bytes using the SIZE command.
func (c *Client) Size(path string) (int64, error) {
	resp, err := c.Send("SIZE " + path)
	if err != nil {
		return 0, err
	}

	if resp.Code != 213 {
		return 0, &ProtocolError{
			Command:  "SIZE",
			Response: resp.Message,
			Code:     resp.Code,
		}
	}

	size, err := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SIZE response: %s", resp.Message)
	}
	return size, nil
}
