// Command sftpd is the SFTP-over-SSH server binary: it parses flags (or
// a JSON config file), builds the configured backend and authentication
// predicates, resolves or generates a host key, and serves until killed.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go4.org/jsonconfig"

	"go.sftpd.dev/core/internal/hostkeydir"
	"go.sftpd.dev/core/pkg/backend"
	"go.sftpd.dev/core/pkg/backend/localdisk"
	"go.sftpd.dev/core/pkg/backend/memory"
	"go.sftpd.dev/core/pkg/backend/objectstore"
	"go.sftpd.dev/core/pkg/sftpserver"
	"go.sftpd.dev/core/pkg/sshauth"
)

// userList collects repeatable "-user user:password" flags into a map,
// following the teacher's repeatable-flag-as-flag.Value convention (see
// dev/devcam's flag.Var uses in the teacher tree).
type userList struct {
	users map[string]string
}

func (u *userList) String() string {
	if u == nil {
		return ""
	}
	pairs := make([]string, 0, len(u.users))
	for user := range u.users {
		pairs = append(pairs, user)
	}
	return strings.Join(pairs, ",")
}

func (u *userList) Set(v string) error {
	user, password, err := sshauth.ParseUserPass(v)
	if err != nil {
		return err
	}
	if u.users == nil {
		u.users = make(map[string]string)
	}
	u.users[user] = password
	return nil
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("sftpd: ")
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var (
		addr           = flag.String("addr", envOr("SFTPD_ADDR", ":2222"), "address to listen on")
		hostKeyFile    = flag.String("host-key", os.Getenv("SFTPD_HOST_KEY_FILE"), "path to a PEM-encoded host key; generated and persisted if absent")
		hostKeyData    = flag.String("host-key-data", os.Getenv("SFTPD_HOST_KEY_DATA"), "raw PEM host key data (overrides -host-key)")
		backendKind    = flag.String("backend", envOr("SFTPD_BACKEND", "memory"), "storage backend: memory, local, or s3")
		localRoot      = flag.String("local-root", os.Getenv("SFTPD_LOCAL_ROOT"), "root directory for -backend=local")
		s3Bucket       = flag.String("s3-bucket", os.Getenv("SFTPD_S3_BUCKET"), "bucket name for -backend=s3")
		s3Prefix       = flag.String("s3-prefix", os.Getenv("SFTPD_S3_PREFIX"), "key prefix for -backend=s3")
		s3Endpoint     = flag.String("s3-endpoint", os.Getenv("SFTPD_S3_ENDPOINT"), "non-default endpoint for -backend=s3 (S3-compatible services)")
		s3Region       = flag.String("s3-region", envOr("SFTPD_S3_REGION", "us-east-1"), "region for -backend=s3")
		authorizedKeys = flag.String("authorized-keys", os.Getenv("SFTPD_AUTHORIZED_KEYS"), "path to an authorized_keys file")
		rejectDelay    = flag.Duration("reject-delay", envOrDuration("SFTPD_REJECT_DELAY", 3*time.Second), "delay before rejecting a failed auth attempt after the first")
		configPath     = flag.String("config", os.Getenv("SFTPD_CONFIG"), "path to a JSON config file, in place of flags")
	)
	users := &userList{}
	flag.Var(users, "user", "user:password credential, repeatable")
	flag.Parse()

	if *configPath != "" {
		return runFromConfig(*configPath)
	}

	hostKey, err := sftpserver.LoadOrGenerate(sftpserver.HostKeySource{
		Path: firstNonEmpty(*hostKeyFile, hostkeydir.Default()),
		Data: []byte(*hostKeyData),
	}, log.Default())
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}

	store, err := buildBackend(*backendKind, *localRoot, objectstore.Config{
		Bucket:   *s3Bucket,
		Prefix:   *s3Prefix,
		Endpoint: *s3Endpoint,
		Region:   *s3Region,
	})
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	if envUser := os.Getenv("SFTPD_USER"); envUser != "" && len(users.users) == 0 {
		if err := users.Set(envUser); err != nil {
			return fmt.Errorf("SFTPD_USER: %w", err)
		}
	}

	auth := sshauth.Config{RejectDelay: *rejectDelay}
	if len(users.users) > 0 {
		auth.Password = sshauth.StaticPasswordPredicate(users.users)
	}
	if *authorizedKeys != "" || os.Getenv("SFTPD_AUTHORIZED_KEYS_DATA") != "" {
		data, predErr := authorizedKeysData(*authorizedKeys)
		if predErr != nil {
			return fmt.Errorf("authorized keys: %w", predErr)
		}
		pred, predErr := sshauth.AuthorizedKeysPredicate(data)
		if predErr != nil {
			return fmt.Errorf("authorized keys: %w", predErr)
		}
		auth.PubKey = pred
	}

	srv := &sftpserver.Server{
		Addr:    *addr,
		Auth:    auth,
		Backend: store,
		HostKey: hostKey,
		Logger:  log.Default(),
	}
	return srv.ListenAndServe()
}

// buildBackend constructs the backend.Backend named by kind.
func buildBackend(kind, localRoot string, s3cfg objectstore.Config) (backend.Backend, error) {
	switch kind {
	case "memory":
		return memory.New(), nil
	case "local":
		if localRoot == "" {
			return nil, fmt.Errorf("-local-root is required for -backend=local")
		}
		return localdisk.New(localRoot)
	case "s3":
		if s3cfg.Bucket == "" {
			return nil, fmt.Errorf("-s3-bucket is required for -backend=s3")
		}
		return objectstore.New(s3cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q (want memory, local, or s3)", kind)
	}
}

// authorizedKeysData reads path, or falls back to the base64-encoded
// SFTPD_AUTHORIZED_KEYS_DATA environment variable when path is empty.
func authorizedKeysData(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	encoded := os.Getenv("SFTPD_AUTHORIZED_KEYS_DATA")
	return base64.StdEncoding.DecodeString(encoded)
}

// runFromConfig builds and runs the server entirely from a JSON config
// file, as an alternative to the flag surface above. Shape mirrors the
// four named deployment profiles in the original source's examples
// directory (local/memory/s3/pubkey servers), collapsed into one schema.
func runFromConfig(path string) error {
	cfg, err := jsonconfig.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}

	addr := cfg.OptionalString("listen", ":2222")
	backendKind := cfg.OptionalString("backend", "memory")
	rejectDelay := time.Duration(cfg.OptionalInt64("rejectDelaySeconds", 3)) * time.Second

	var s3cfg objectstore.Config
	var localRoot string
	switch backendKind {
	case "memory":
	case "local":
		localRoot = cfg.RequiredString("localRoot")
	case "s3":
		s3obj := cfg.RequiredObject("s3")
		s3cfg = objectstore.Config{
			Bucket:   s3obj.RequiredString("bucket"),
			Prefix:   s3obj.OptionalString("prefix", ""),
			Endpoint: s3obj.OptionalString("endpoint", ""),
			Region:   s3obj.OptionalString("region", "us-east-1"),
		}
		if err := s3obj.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unknown backend %q", backendKind)
	}

	usersObj := cfg.OptionalObject("users")
	authorizedKeysPath := cfg.OptionalString("authorizedKeys", "")
	hostKeyPath := cfg.OptionalString("hostKeyFile", hostkeydir.Default())
	if err := cfg.Validate(); err != nil {
		return err
	}

	var store backend.Backend
	switch backendKind {
	case "memory":
		store = memory.New()
	case "local":
		if store, err = localdisk.New(localRoot); err != nil {
			return err
		}
	case "s3":
		if store, err = objectstore.New(s3cfg); err != nil {
			return err
		}
	}

	auth := sshauth.Config{RejectDelay: rejectDelay}
	if len(usersObj) > 0 {
		creds := make(map[string]string, len(usersObj))
		for user, pw := range usersObj {
			pwStr, ok := pw.(string)
			if !ok {
				return fmt.Errorf("config: users.%s must be a string password", user)
			}
			creds[user] = pwStr
		}
		auth.Password = sshauth.StaticPasswordPredicate(creds)
	}
	if authorizedKeysPath != "" {
		data, rerr := os.ReadFile(authorizedKeysPath)
		if rerr != nil {
			return fmt.Errorf("config: reading authorizedKeys: %w", rerr)
		}
		pred, perr := sshauth.AuthorizedKeysPredicate(data)
		if perr != nil {
			return fmt.Errorf("config: parsing authorizedKeys: %w", perr)
		}
		auth.PubKey = pred
	}

	hostKey, err := sftpserver.LoadOrGenerate(sftpserver.HostKeySource{Path: hostKeyPath}, log.Default())
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}

	srv := &sftpserver.Server{
		Addr:    addr,
		Auth:    auth,
		Backend: store,
		HostKey: hostKey,
		Logger:  log.Default(),
	}
	return srv.ListenAndServe()
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envOrDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
