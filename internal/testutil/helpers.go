// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"os"
	"testing"
)

// RequireKernel skips the test unless the BMCNETD_KERNEL_TEST
// environment variable is set. Tests that open real netlink sockets or
// talk to the system bus only run in the VM harness, not in plain CI.
func RequireKernel(t *testing.T) {
	t.Helper()
	if os.Getenv("BMCNETD_KERNEL_TEST") == "" {
		t.Skip("Skipping test: requires BMCNETD_KERNEL_TEST environment")
	}
}
