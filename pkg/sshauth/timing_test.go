package sshauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// TestRejectDelaySkipsFirstAttempt drives one real SSH handshake over a
// net.Pipe against a server built with sshauth.Config: the first failed
// password attempt on a fresh connection must return in less than
// RejectDelay, since the first attempt is never delayed.
func TestRejectDelaySkipsFirstAttempt(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	signer, err := ssh.NewSignerFromSigner(priv)
	if err != nil {
		t.Fatalf("NewSignerFromSigner: %v", err)
	}

	cfg := Config{
		Password:    StaticPasswordPredicate(map[string]string{"alice": "s3cret"}),
		RejectDelay: 150 * time.Millisecond,
	}
	serverConfig := cfg.ServerConfig(signer)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ssh.NewServerConn(serverConn, serverConfig)
	}()

	clientCfg := &ssh.ClientConfig{
		User:            "alice",
		Auth:            []ssh.AuthMethod{ssh.Password("wrong-once")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	}

	start := time.Now()
	_, _, _, err = ssh.NewClientConn(clientConn, "pipe", clientCfg)
	firstElapsed := time.Since(start)
	if err == nil {
		t.Fatal("first handshake with a wrong password unexpectedly succeeded")
	}
	if firstElapsed >= cfg.RejectDelay {
		t.Fatalf("first attempt took %v, want well under RejectDelay (%v): the first attempt on a connection must not be delayed", firstElapsed, cfg.RejectDelay)
	}
	<-done
}
