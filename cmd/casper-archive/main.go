// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/casper2020/casper-nginx-broker-sub001/broker"
	"github.com/casper2020/casper-nginx-broker-sub001/internal/process"
)

// ArchiveFlags is the configuration of every command.
type ArchiveFlags struct {
	broker.Config

	Log process.LogConfig
}

// RequestFlags describe the request an operation is made on behalf of.
type RequestFlags struct {
	Headers     map[string]string
	BillingID   string
	Unaccounted bool
}

var (
	rootCmd = &cobra.Command{
		Use:          "casper-archive",
		Short:        "Sealed object archive",
		SilenceUsage: true,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		Args:        cobra.NoArgs,
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}

	runCfg     ArchiveFlags
	requestCfg RequestFlags
	confDir    string
)

func init() {
	confDir = process.DefaultConfigDir("casper-archive")
	flags := rootCmd.PersistentFlags()
	flags.String("config", filepath.Join(confDir, "config.yaml"), "config file")
	process.Bind(flags, &runCfg, map[string]string{"CONFDIR": confDir})

	flags.StringToStringVar(&requestCfg.Headers, "request.header", nil, "request headers, as NAME=VALUE")
	flags.StringVar(&requestCfg.BillingID, "request.billing-id", "", "billing document the size change is applied to")
	flags.BoolVar(&requestCfg.Unaccounted, "request.unaccounted", false, "if true, the size change is not accounted")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(putCmd, getCmd, patchCmd, updateCmd, moveCmd, deleteCmd, validateCmd)
}

func main() {
	process.Exec(rootCmd)
}

// openPeer opens the broker for a command. cleanup closes it and syncs the logger.
func openPeer(cmd *cobra.Command) (ctx context.Context, peer *broker.Peer, cleanup func() error, err error) {
	log, err := process.NewLogger(runCfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := process.Ctx(cmd)

	peer, err = broker.Open(ctx, log, runCfg.Config)
	if err != nil {
		cancel()
		return nil, nil, nil, errs.Combine(err, ignoreSync(log.Sync()))
	}
	return ctx, peer, func() error {
		defer cancel()
		return errs.Combine(peer.Close(), ignoreSync(log.Sync()))
	}, nil
}

// ignoreSync drops the error zap returns when syncing a terminal.
func ignoreSync(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return nil
	}
	return err
}

func request() broker.Request {
	return broker.Request{
		Headers:     requestCfg.Headers,
		BillingID:   requestCfg.BillingID,
		Unaccounted: requestCfg.Unaccounted,
	}
}

// numericID returns id, or a time based one when id is zero.
func numericID(id uint64) uint64 {
	if id != 0 {
		return id
	}
	return uint64(time.Now().UnixNano())
}

// openInput opens path for reading, stdin when path is "-".
func openInput(path string) (io.ReadCloser, int64, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), -1, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errs.Wrap(err)
	}
	info, err := file.Stat()
	if err != nil {
		return nil, 0, errs.Combine(errs.Wrap(err), file.Close())
	}
	return file, info.Size(), nil
}

func printJSON(w io.Writer, value interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return errs.Wrap(encoder.Encode(value))
}

// result is what mutating commands print.
type result struct {
	URI    string            `json:"uri,omitempty"`
	ID     string            `json:"id,omitempty"`
	Size   int64             `json:"size"`
	OldURI string            `json:"old_uri,omitempty"`
	Ledger int64             `json:"ledger"`
	Delta  int64             `json:"delta"`
	XAttrs map[string]string `json:"xattrs,omitempty"`
}

func printResult(cmd *cobra.Command, res broker.Result) error {
	xattrs := map[string]string{}
	for _, readback := range res.Info.Readback {
		if readback.Present {
			xattrs[readback.Name] = readback.Value
		}
	}
	return printJSON(cmd.OutOrStdout(), result{
		URI:    res.Info.New.URI,
		ID:     res.Info.New.ID,
		Size:   res.Info.New.Size,
		OldURI: res.Info.Old.URI,
		Ledger: res.Row.ID,
		Delta:  res.Row.Delta,
		XAttrs: xattrs,
	})
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	if err := os.MkdirAll(confDir, 0700); err != nil {
		return errs.Wrap(err)
	}

	h2ePath := runCfg.H2E
	if _, err := os.Stat(h2ePath); os.IsNotExist(err) {
		example := []byte("{\n\t// header token -> directory, the first letter is the id prefix\n\t\"X-CASPER-USER-ID\": \"users\"\n}\n")
		if err := os.WriteFile(h2ePath, example, 0600); err != nil {
			return errs.Wrap(err)
		}
	}

	for _, dir := range []string{runCfg.Archive.Root, runCfg.Archive.QuarantineDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errs.Wrap(err)
		}
	}

	return process.SaveConfig(cmd, filepath.Join(confDir, "config.yaml"), map[string]interface{}{
		"archive.root":           runCfg.Archive.Root,
		"archive.quarantine-dir": runCfg.Archive.QuarantineDir,
		"h2e":                    h2ePath,
	})
}
