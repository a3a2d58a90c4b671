// Package ftp implements an FTP client with support for both plain and secure (FTPS) connections.
//
// # Overview
//
// The client is built around a single-task dispatcher that owns the control
// connection and the transient data connection. Every socket event (reply
// bytes, data chunks, errors, timeouts, closures) funnels through one
// channel to the handler of the one operation in flight, which decides when
// that operation is complete. This is what makes FTP's interleaved reply
// flows (unsolicited 1xx replies, 150/226 pairs straddling data-channel
// traffic, REST/RETR continuations) expressible without races.
//
// Features:
//   - Plain FTP connections
//   - Explicit TLS (FTPS with AUTH TLS)
//   - Implicit TLS (FTPS on port 990)
//   - Automatic TLS session reuse for data connections
//   - Resumable downloads (REST/RETR)
//   - Bandwidth throttling
//   - Robust error handling with detailed protocol context
//
// # Basic Usage
//
// Connect to a plain FTP server:
//
//	client, err := ftp.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	if err := client.Login("username", "password"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.UseDefaultSettings(); err != nil {
//	    log.Fatal(err)
//	}
//
// # TLS Support
//
// There are two modes of FTPS:
//
// Explicit TLS (recommended): The client connects on port 21 and upgrades to TLS
// using the AUTH TLS command. This is the most common and recommended approach:
//
//	client, err := ftp.Dial("ftp.example.com:21",
//	    ftp.WithExplicitTLS(&tls.Config{
//	        ServerName: "ftp.example.com",
//	    }),
//	)
//
// Implicit TLS: The client connects directly with TLS on port 990. This is a
// legacy mode but still used by some servers:
//
//	client, err := ftp.Dial("ftp.example.com:990",
//	    ftp.WithImplicitTLS(&tls.Config{
//	        ServerName: "ftp.example.com",
//	    }),
//	)
//
// # TLS Session Reuse
//
// Many modern FTP servers (vsftpd, ProFTPD) require TLS session reuse between
// the control and data connections for security. This library automatically
// handles session reuse by maintaining a shared TLS session cache. No additional
// configuration is required.
//
// # File Transfers
//
// Upload a file:
//
//	file, err := os.Open("local.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer file.Close()
//
//	if err := client.Store("remote.txt", file); err != nil {
//	    log.Fatal(err)
//	}
//
// Resume a download from byte 1024:
//
//	err := client.RetrieveFrom("remote.bin", file, 1024)
//
// Directory listings are returned raw; bring your own parser:
//
//	raw, err := client.List("/pub")
//
// # Error Handling
//
// Errors returned by this package include detailed protocol context. Use
// errors.As to access the full error details:
//
//	if err := client.Store("file.txt", reader); err != nil {
//	    var pe *ftp.ProtocolError
//	    if errors.As(err, &pe) {
//	        fmt.Printf("Command: %s\n", pe.Command)
//	        fmt.Printf("Response: %s\n", pe.Response)
//	        fmt.Printf("Code: %d\n", pe.Code)
//	    }
//	}
package ftp
