package sftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Session is an open SFTP connection.
type Session struct {
	Client *sftp.Client

	closers []func() error
}

// Close closes the client and the connections below it.
func (s *Session) Close() error {
	var errs []error
	if s.Client != nil {
		if err := s.Client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range s.closers {
		if err := c(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dialer opens an authenticated session.
type Dialer func(ctx context.Context, d Descriptor) (*Session, error)

// Dial connects over SSH and starts the sftp subsystem.
func Dial(ctx context.Context, d Descriptor) (*Session, error) {
	s := &Session{}
	auth, err := authMethods(d, s)
	if err != nil {
		s.closeAll()
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            d.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback(d.Fingerprint),
		Timeout:         d.Timeout,
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	nc, err := dialer.DialContext(ctx, "tcp", d.Address())
	if err != nil {
		s.closeAll()
		return nil, err
	}
	conn, chans, reqs, err := ssh.NewClientConn(nc, d.Address(), cfg)
	if err != nil {
		nc.Close()
		s.closeAll()
		return nil, err
	}
	sshClient := ssh.NewClient(conn, chans, reqs)
	s.closers = append(s.closers, sshClient.Close)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		s.closeAll()
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	s.Client = client
	return s, nil
}

func (s *Session) closeAll() {
	for _, c := range s.closers {
		_ = c()
	}
}

// authMethods builds the auth methods in the order agent, key, password.
func authMethods(d Descriptor, s *Session) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if d.UseAgent {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, errors.New("ssh agent requested but SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("connect to ssh agent: %w", err)
		}
		s.closers = append(s.closers, conn.Close)
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	}

	if d.PrivateKey != "" {
		signer, err := parsePrivateKey(d.PrivateKey, d.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if d.Credential != "" {
		password := d.Credential
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	return methods, nil
}

// parsePrivateKey accepts inline PEM data or the path of a key file.
func parsePrivateKey(key, passphrase string) (ssh.Signer, error) {
	pem := []byte(key)
	if !strings.Contains(key, "-----BEGIN") {
		data, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		pem = data
	}

	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// ErrHostKeyMismatch is returned when the server key does not match the
// configured fingerprint.
var ErrHostKeyMismatch = errors.New("host key fingerprint mismatch")

// hostKeyCallback pins the host key when a fingerprint is configured.
// Without one every key is accepted.
func hostKeyCallback(fingerprint string) ssh.HostKeyCallback {
	if fingerprint == "" {
		return ssh.InsecureIgnoreHostKey()
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if fingerprintMatches(fingerprint, key) {
			return nil
		}
		return fmt.Errorf("%w: %s presented %s", ErrHostKeyMismatch, hostname, ssh.FingerprintSHA256(key))
	}
}

func fingerprintMatches(fingerprint string, key ssh.PublicKey) bool {
	if strings.HasPrefix(fingerprint, "SHA256:") {
		return fingerprint == ssh.FingerprintSHA256(key)
	}
	normalize := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, "MD5:"), ":", ""))
	}
	return normalize(fingerprint) == normalize(ssh.FingerprintLegacyMD5(key))
}
