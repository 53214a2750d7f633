package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/signing"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
	"github.com/dharsanguruparan/PhotoDrop/internal/streaming"
)

func newHashCmd() *cobra.Command {
	var owner string
	var maxBytes int64
	cmd := &cobra.Command{
		Use:   "hash FILE...",
		Short: "Print the content hash and original path an upload would get",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				sum, err := hashFile(name, owner, maxBytes)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", sum, storage.OriginalPath(owner, sum, storage.Ext(name)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner scope mixed into the hash")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 50<<20, "Reject files larger than this")
	return cmd
}

func hashFile(name, owner string, maxBytes int64) (string, error) {
	f, err := os.Open(filepath.Clean(name))
	if err != nil {
		return "", err
	}
	defer f.Close()

	hw := streaming.NewHashWriter(nil, owner)
	if _, err := io.Copy(streaming.NewLimitWriter(hw, maxBytes), f); err != nil {
		if errors.Is(err, streaming.ErrTooLarge) {
			return "", fmt.Errorf("larger than %d bytes", maxBytes)
		}
		return "", err
	}
	return hw.Sum(), nil
}

// signerFromEnv refuses to run with a generated secret since nothing it
// signs would verify against a running server.
func signerFromEnv() (*signing.Signer, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Signing.Secret == "" {
		return nil, nil, errors.New("SIGNING_SECRET must be set")
	}
	return signing.NewSigner([]byte(cfg.Signing.Secret), cfg.Signing.Window), cfg, nil
}

func newSignCmd() *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "sign PATH",
		Short: "Mint a signed media URL for a storage path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, cfg, err := signerFromEnv()
			if err != nil {
				return err
			}
			if base == "" {
				base = strings.TrimSuffix(cfg.Signing.PublicBaseURL, "/") + "/media"
			}
			signed := signer.Sign(strings.TrimPrefix(args[0], "/"))
			fmt.Fprintln(cmd.OutOrStdout(), signed.URL(base))
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "URL prefix (defaults to PUBLIC_BASE_URL/media)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify PATH SIG EXP",
		Short: "Check a signature against a storage path",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, _, err := signerFromEnv()
			if err != nil {
				return err
			}
			if err := signer.Verify(strings.TrimPrefix(args[0], "/"), args[1], args[2], time.Now()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
	return cmd
}
