// Package sftpserver assembles a listening SFTP-over-SSH server: it
// resolves or generates a host key, then accepts connections and hands
// each to its own session dispatcher goroutine.
package sftpserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"go.sftpd.dev/core/pkg/backend"
	"go.sftpd.dev/core/pkg/sshauth"
	"go.sftpd.dev/core/pkg/sshsession"
)

// HostKeySource describes where to find (or how to produce) the server's
// host key. Data, if set, is parsed as the key. Otherwise the key is read
// from Path; if Path is empty or names a file that doesn't exist,
// LoadOrGenerate generates a new key and persists it to Path when Path is
// set. A key generated with Path empty is not persisted anywhere.
type HostKeySource struct {
	Path string // PEM file path
	Data []byte // raw PEM bytes, takes precedence over Path if set
}

// LoadOrGenerate resolves a signer from src. If src names a file that
// doesn't exist and src.Data is empty, a new ed25519 key is generated,
// logged as a warning (since losing it changes the server's host key
// fingerprint on every restart), and persisted to src.Path so future
// restarts reuse it.
func LoadOrGenerate(src HostKeySource, logger *log.Logger) (ssh.Signer, error) {
	logf := func(format string, args ...interface{}) {
		if logger != nil {
			logger.Printf(format, args...)
		}
	}

	if len(src.Data) > 0 {
		return ssh.ParsePrivateKey(src.Data)
	}
	if src.Path != "" {
		if data, err := os.ReadFile(src.Path); err == nil {
			return ssh.ParsePrivateKey(data)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("sftpserver: reading host key %q: %w", src.Path, err)
		}
	}

	logf("no host key found at %q; generating a new one", src.Path)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	_ = pub
	if err != nil {
		return nil, fmt.Errorf("sftpserver: generating host key: %w", err)
	}
	signer, err := ssh.NewSignerFromSigner(priv)
	if err != nil {
		return nil, fmt.Errorf("sftpserver: wrapping generated host key: %w", err)
	}

	if src.Path != "" {
		pemBlock, err := ssh.MarshalPrivateKey(priv, "")
		if err != nil {
			logf("could not marshal generated host key for persistence: %v", err)
			return signer, nil
		}
		if err := os.MkdirAll(filepath.Dir(src.Path), 0o700); err != nil {
			logf("could not create directory for host key %q: %v", src.Path, err)
			return signer, nil
		}
		if err := os.WriteFile(src.Path, marshalPEM(pemBlock), 0o600); err != nil {
			logf("could not persist generated host key to %q: %v", src.Path, err)
			return signer, nil
		}
		logf("persisted generated host key to %q", src.Path)
	}
	return signer, nil
}

// Server is a listening SFTP-over-SSH server.
type Server struct {
	Addr    string
	Auth    sshauth.Config
	Backend backend.Backend
	HostKey ssh.Signer
	Logger  *log.Logger
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// ListenAndServe listens on s.Addr and accepts connections until the
// listener errors (typically because it was closed). Each accepted
// connection runs its own session dispatcher on its own goroutine.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("sftpserver: listen on %q: %w", s.Addr, err)
	}
	defer ln.Close()
	s.logf("listening on %s", ln.Addr())
	return s.Serve(ln)
}

// Serve accepts connections from ln until it errors.
func (s *Server) Serve(ln net.Listener) error {
	serverConfig := s.Auth.ServerConfig(s.HostKey)
	dispatcher := &sshsession.Dispatcher{
		Config:  serverConfig,
		Backend: s.Backend,
		Logger:  s.Logger,
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go dispatcher.Serve(conn)
	}
}
