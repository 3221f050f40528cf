package ftp

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/jlaffaye/ftp"
)

// Conn is the part of an FTP control connection the adapter drives.
// Implementations need not be safe for concurrent use.
type Conn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Append(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	RemoveDirRecur(path string) error
	MakeDir(path string) error
	FileSize(path string) (int64, error)
	GetTime(path string) (time.Time, error)
	NoOp() error
	Quit() error
}

// walker is implemented by connections able to walk a tree themselves.
type walker interface {
	Walk(root string) *ftp.Walker
}

// Dialer opens and logs in a control connection.
type Dialer func(ctx context.Context, d Descriptor) (Conn, error)

// serverConn adapts *ftp.ServerConn to Conn.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

// Dial connects to the server described by d with jlaffaye/ftp.
func Dial(ctx context.Context, d Descriptor) (Conn, error) {
	options := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(d.Timeout),
		ftp.DialWithDisabledUTF8(!d.UTF8),
	}
	if d.SSL {
		options = append(options, ftp.DialWithExplicitTLS(&tls.Config{ServerName: d.Host}))
	}
	if d.IgnorePassiveAddress {
		options = append(options, ftp.DialWithDialFunc(controlHostDialer(d)))
	}

	c, err := ftp.Dial(d.Address(), options...)
	if err != nil {
		return nil, err
	}
	if err := c.Login(d.Username, d.Credential); err != nil {
		_ = c.Quit()
		return nil, err
	}

	transferType := ftp.TransferTypeBinary
	if !d.Binary() {
		transferType = ftp.TransferTypeASCII
	}
	if err := c.Type(transferType); err != nil {
		_ = c.Quit()
		return nil, err
	}
	return serverConn{c}, nil
}

// controlHostDialer dials data connections on the control host,
// ignoring the address announced in the PASV reply.
func controlHostDialer(d Descriptor) func(network, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout}
	return func(network, address string) (net.Conn, error) {
		_, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		return dialer.Dial(network, net.JoinHostPort(d.Host, port))
	}
}
