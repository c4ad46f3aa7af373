// Package sshauth builds an ssh.ServerConfig from password and
// public-key predicates, with a configurable delay before rejecting a
// failed attempt.
package sshauth

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// PasswordPredicate reports whether user/password is a valid credential
// pair.
type PasswordPredicate func(user, password string) bool

// PublicKeyPredicate reports whether key is an authorized key for user.
type PublicKeyPredicate func(user string, key ssh.PublicKey) bool

// Config builds an ssh.ServerConfig. At least one of Password or PubKey
// must be set, or every connection will be rejected.
type Config struct {
	Password PasswordPredicate
	PubKey   PublicKeyPredicate

	// RejectDelay is slept before returning an authentication error, to
	// blunt brute-force password guessing. It's skipped on a
	// connection's first attempt, so a single legitimate login isn't
	// slowed down. Zero disables the delay entirely.
	RejectDelay time.Duration
}

// ServerConfig builds the ssh.ServerConfig for this Config. hostSigner
// is the server's host key; cmd/sftpd gets it from
// sftpserver.LoadOrGenerate. Each call
// to ServerConfig gets its own attempt tracker, so the "skip the delay on
// a connection's first attempt" rule is scoped to the listener that owns
// this ssh.ServerConfig, not shared process-wide.
func (c Config) ServerConfig(hostSigner ssh.Signer) *ssh.ServerConfig {
	tracker := &attemptTracker{tried: map[string]bool{}}
	cfg := &ssh.ServerConfig{
		PasswordCallback:  c.passwordCallback(tracker),
		PublicKeyCallback: c.publicKeyCallback(tracker),
	}
	cfg.AddHostKey(hostSigner)
	return cfg
}

// attemptTracker counts failed attempts per remote address so the first
// one is never delayed. PasswordCallback and PublicKeyCallback can both
// be tried during one connection's negotiation, so state is keyed by
// remote address rather than threaded through a single callback.
type attemptTracker struct {
	mu    sync.Mutex
	tried map[string]bool
}

func (t *attemptTracker) isFirst(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	first := !t.tried[key]
	t.tried[key] = true
	return first
}

func (c Config) delay(tracker *attemptTracker, connKey string) {
	if c.RejectDelay <= 0 {
		return
	}
	if tracker.isFirst(connKey) {
		return
	}
	time.Sleep(c.RejectDelay)
}

func (c Config) passwordCallback(tracker *attemptTracker) func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
	if c.Password == nil {
		if c.PubKey != nil {
			// A public-key predicate is configured on its own;
			// advertising password too would just add a method that
			// always rejects for no reason. Let PublicKeyCallback be
			// the only configured method.
			return nil
		}
		// Neither predicate is configured. spec.md §4.5: advertise
		// password-only and always reject, rather than leaving the
		// server with no auth method advertised at all.
		return func(conn ssh.ConnMetadata, _ []byte) (*ssh.Permissions, error) {
			c.delay(tracker, conn.RemoteAddr().String())
			return nil, fmt.Errorf("sshauth: no authentication method configured for user %q", conn.User())
		}
	}
	return func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
		if c.Password(conn.User(), string(password)) {
			return &ssh.Permissions{Extensions: map[string]string{"user": conn.User()}}, nil
		}
		c.delay(tracker, conn.RemoteAddr().String())
		return nil, fmt.Errorf("sshauth: invalid credentials for user %q", conn.User())
	}
}

func (c Config) publicKeyCallback(tracker *attemptTracker) func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
	if c.PubKey == nil {
		return nil
	}
	return func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		if c.PubKey(conn.User(), key) {
			return &ssh.Permissions{Extensions: map[string]string{"user": conn.User()}}, nil
		}
		c.delay(tracker, conn.RemoteAddr().String())
		return nil, fmt.Errorf("sshauth: unauthorized key for user %q", conn.User())
	}
}

// ParseUserPass parses the teacher-convention "user:password" string used
// throughout this project's -user flag.
func ParseUserPass(arg string) (user, password string, err error) {
	pieces := strings.SplitN(arg, ":", 2)
	if len(pieces) < 2 {
		return "", "", fmt.Errorf("sshauth: invalid user spec %q, want \"user:password\"", arg)
	}
	return pieces[0], pieces[1], nil
}

// StaticPasswordPredicate returns a PasswordPredicate that accepts any
// user:password pair present in users, compared with
// crypto/subtle.ConstantTimeCompare so a failed check takes the same time
// regardless of how much of the password matched.
func StaticPasswordPredicate(users map[string]string) PasswordPredicate {
	return func(user, password string) bool {
		want, ok := users[user]
		if !ok {
			return false
		}
		a, b := []byte(want), []byte(password)
		if len(a) != len(b) {
			return false
		}
		return subtle.ConstantTimeCompare(a, b) == 1
	}
}

// AuthorizedKeysPredicate parses data in authorized_keys format and
// returns a PublicKeyPredicate that accepts any key in the file,
// regardless of the username presented (this server doesn't map
// usernames to specific keys; any configured key authenticates any
// user).
func AuthorizedKeysPredicate(data []byte) (PublicKeyPredicate, error) {
	var keys []ssh.PublicKey
	for len(data) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			if len(keys) > 0 {
				break
			}
			return nil, fmt.Errorf("sshauth: parsing authorized keys: %w", err)
		}
		keys = append(keys, key)
		data = rest
	}
	return func(_ string, key ssh.PublicKey) bool {
		marshaled := key.Marshal()
		for _, k := range keys {
			if subtle.ConstantTimeCompare(k.Marshal(), marshaled) == 1 {
				return true
			}
		}
		return false
	}, nil
}
