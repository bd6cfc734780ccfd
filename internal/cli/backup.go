package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/b0r1v0j3/workers-united/internal/db"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent snapshot of the database",
		Long: `Write a snapshot with VACUUM INTO. The snapshot is taken inside a read
transaction, so it is safe while the server is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if out == "" {
				out = e.cfg.DatabasePath + ".bak"
			}
			if _, err := os.Stat(out); err == nil {
				return errors.WithHint(errors.Newf("%s already exists", out), "remove it or pass --out")
			}
			if _, err := e.conn.Exec(ctx, `VACUUM INTO ?`, out); err != nil {
				return errors.Wrap(err, "backup")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Snapshot path (default <database>.bak)")
	return cmd
}

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the database with a snapshot",
		Long:  "Replace the configured database with a snapshot written by backup. Stop the server first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src := args[0]
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			dst := cfg.DatabasePath

			if err := checkSnapshot(ctx, src); err != nil {
				return err
			}
			if _, err := os.Stat(dst); err == nil && !force {
				return errors.WithHint(errors.Newf("%s already exists", dst), "pass --force to overwrite it")
			}

			tmp := dst + ".restore"
			if err := copyFile(src, tmp); err != nil {
				return err
			}
			for _, side := range []string{dst + "-wal", dst + "-shm"} {
				if err := os.Remove(side); err != nil && !os.IsNotExist(err) {
					return errors.Wrapf(err, "remove %s", side)
				}
			}
			if err := os.Rename(tmp, dst); err != nil {
				return errors.Wrap(err, "replace database")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s\n", dst, src)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing database")
	return cmd
}

// checkSnapshot refuses files that are not a migrated database.
func checkSnapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "snapshot")
	}
	d, err := db.New(ctx, path, nil)
	if err != nil {
		return errors.Wrapf(err, "open snapshot %s", path)
	}
	defer d.Close()

	var n int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&n); err != nil {
		return errors.Wrapf(err, "%s is not a workers-united database", path)
	}
	if n == 0 {
		return errors.Newf("%s has no applied migrations", path)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open snapshot")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create database")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, "copy snapshot")
	}
	return out.Close()
}
