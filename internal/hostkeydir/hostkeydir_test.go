package hostkeydir

import (
	"path/filepath"
	"testing"
)

func TestStateDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("SFTPD_STATE_DIR", "/tmp/sftpd-test-state")
	if got := StateDir(); got != "/tmp/sftpd-test-state" {
		t.Fatalf("StateDir() = %q, want %q", got, "/tmp/sftpd-test-state")
	}
	if got := Default(); got != filepath.Join("/tmp/sftpd-test-state", "host_key") {
		t.Fatalf("Default() = %q", got)
	}
}
