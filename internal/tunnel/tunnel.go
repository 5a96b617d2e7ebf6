// Package tunnel provides SSH local port forwarding to a database behind a bastion.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"mysql-auto-backup/internal/config"
	"mysql-auto-backup/internal/errors"
	"mysql-auto-backup/internal/logging"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DialTimeout bounds the reachability check and the SSH handshake.
const DialTimeout = 10 * time.Second

// Tunnel forwards 127.0.0.1:LocalPort to the remote bind address through an SSH client.
type Tunnel struct {
	LocalPort int

	client     *ssh.Client
	listener   net.Listener
	remoteAddr string
	logger     *logging.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// CheckReachable dials host:port over TCP.
func CheckReachable(ctx context.Context, host string, port int, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return errors.NewAppError(errors.ErrorTypeConnection,
			fmt.Sprintf("cannot reach SSH server %s:%d", host, port), err)
	}
	return conn.Close()
}

// Open checks reachability, connects to the SSH server and starts forwarding.
func Open(ctx context.Context, cfg *config.SSHConfig, logger *logging.Logger) (*Tunnel, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := CheckReachable(ctx, cfg.Host, cfg.Port, DialTimeout); err != nil {
		return nil, err
	}

	clientConfig, err := clientConfig(cfg, logger)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeConfiguration, "invalid SSH credentials", err)
	}

	sshAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", sshAddr)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeConnection, "SSH dial failed", err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, sshAddr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, errors.NewAppError(errors.ErrorTypeConnection, "SSH handshake failed", err)
	}
	client := ssh.NewClient(c, chans, reqs)

	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.LocalBindPort)))
	if err != nil {
		client.Close()
		return nil, errors.NewAppError(errors.ErrorTypeConnection,
			fmt.Sprintf("cannot bind local port %d", cfg.LocalBindPort), err)
	}

	t := &Tunnel{
		LocalPort:  listener.Addr().(*net.TCPAddr).Port,
		client:     client,
		listener:   listener,
		remoteAddr: net.JoinHostPort(cfg.RemoteBindHost, strconv.Itoa(cfg.RemoteBindPort)),
		logger:     logger,
	}
	t.wg.Add(1)
	go t.acceptLoop()

	logger.Infof("SSH tunnel established: 127.0.0.1:%d -> %s -> %s", t.LocalPort, sshAddr, t.remoteAddr)
	return t, nil
}

// Close stops forwarding and disconnects. It is safe to call more than once.
func (t *Tunnel) Close() error {
	if t == nil {
		return nil
	}
	var err error
	t.closeOnce.Do(func() {
		t.listener.Close()
		err = t.client.Close()
		t.wg.Wait()
		t.logger.Debug("SSH tunnel closed")
	})
	return err
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remoteAddr)
	if err != nil {
		t.logger.Warnf("SSH tunnel could not reach %s: %v", t.remoteAddr, err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

func clientConfig(cfg *config.SSHConfig, logger *logging.Logger) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		signer, err := loadSigner(cfg.PrivateKey, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(expandHome(cfg.KnownHosts))
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		logger.Debug("known_hosts not configured, host key is not verified")
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         DialTimeout,
	}, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(pem)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
