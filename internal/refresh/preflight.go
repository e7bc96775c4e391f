package refresh

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// preflight runs the environment checks in fixed order: directory access,
// free disk space, store integrity, remote reachability. The first failure
// aborts the cycle with its message.
func (p *Pipeline) preflight(ctx context.Context) error {
	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"directory access", p.checkDirectory},
		{"disk space", p.checkDiskSpace},
		{"store integrity", p.checkIntegrity},
		{"remote API", p.checkRemote},
	}

	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			return fmt.Errorf("pre-flight %s: %w", c.name, err)
		}
	}
	return nil
}

func (p *Pipeline) checkDirectory(ctx context.Context) error {
	fi, err := os.Stat(p.dataDir)
	if err != nil {
		return fmt.Errorf("data directory %s: %w", p.dataDir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("data directory %s is not a directory", p.dataDir)
	}
	if err := unix.Access(p.dataDir, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("data directory %s not readable/writable: %w", p.dataDir, err)
	}
	return nil
}

func (p *Pipeline) checkDiskSpace(ctx context.Context) error {
	var st unix.Statfs_t
	if err := unix.Statfs(p.dataDir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", p.dataDir, err)
	}
	if st.Blocks == 0 {
		return fmt.Errorf("statfs %s: zero block count", p.dataDir)
	}

	freePct := float64(st.Bavail) / float64(st.Blocks) * 100
	if freePct < p.minFreePct {
		return fmt.Errorf("only %.1f%% disk free, need %.1f%%", freePct, p.minFreePct)
	}
	return nil
}

func (p *Pipeline) checkIntegrity(ctx context.Context) error {
	return p.store.IntegrityCheck(ctx)
}

func (p *Pipeline) checkRemote(ctx context.Context) error {
	return p.client.Ping(ctx)
}
