// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/casper2020/casper-nginx-broker-sub001/archive"
	"github.com/casper2020/casper-nginx-broker-sub001/broker"
)

// objectFlags are shared by commands that allocate objects.
type objectFlags struct {
	header     string
	numericID  uint64
	reservedID string
	attrs      map[string]string
	preserving []string
	backup     bool
	archivedBy string
}

func (flags *objectFlags) bind(cmd *cobra.Command, allocate bool) {
	if allocate {
		cmd.Flags().StringVar(&flags.header, "type", "", "header token selecting the object type")
	}
	cmd.Flags().Uint64Var(&flags.numericID, "numeric-id", 0, "numeric id of a new object, time based when zero")
	cmd.Flags().StringVar(&flags.reservedID, "reserved-id", "", "reserved id of a new object")
	cmd.Flags().StringToStringVar(&flags.attrs, "attr", nil, "attributes, as NAME=VALUE")
	cmd.Flags().StringSliceVar(&flags.preserving, "preserve", nil, "attributes whose stored value is kept")
	cmd.Flags().BoolVar(&flags.backup, "backup", false, "if true, keep the original")
	cmd.Flags().StringVar(&flags.archivedBy, "archived-by", "", "who the change is recorded for")
}

var (
	putCmd = &cobra.Command{
		Use:   "put FILE",
		Short: "Store a new object, reading stdin when FILE is -",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdPut,
	}
	getCmd = &cobra.Command{
		Use:   "get URI",
		Short: "Write the content of an object to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdGet,
	}
	patchCmd = &cobra.Command{
		Use:   "patch URI",
		Short: "Replace attributes of an object",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdPatch,
	}
	updateCmd = &cobra.Command{
		Use:   "update URI FILE",
		Short: "Replace the content of an object",
		Args:  cobra.ExactArgs(2),
		RunE:  cmdUpdate,
	}
	moveCmd = &cobra.Command{
		Use:   "move PATH",
		Short: "Move a file into the archive",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdMove,
	}
	deleteCmd = &cobra.Command{
		Use:   "delete URI",
		Short: "Remove an object",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdDelete,
	}
	validateCmd = &cobra.Command{
		Use:   "validate URI",
		Short: "Check the integrity of an object",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdValidate,
	}

	putCfg    objectFlags
	patchCfg  objectFlags
	updateCfg struct {
		objectFlags
		requestee string
	}
	moveCfg struct {
		objectFlags
		md5 string
	}
	getCfg struct {
		output string
		attrs  bool
	}
	validateCfg struct {
		md5 string
		id  string
	}
)

func init() {
	putCfg.bind(putCmd, true)
	patchCfg.bind(patchCmd, false)
	updateCfg.bind(updateCmd, false)
	updateCmd.Flags().StringVar(&updateCfg.requestee, "requestee", "", "who the modification was made for")
	moveCfg.bind(moveCmd, true)
	moveCmd.Flags().StringVar(&moveCfg.md5, "md5", "", "expected md5 of the file")
	getCmd.Flags().StringVarP(&getCfg.output, "output", "o", "-", "file the content is written to")
	getCmd.Flags().BoolVar(&getCfg.attrs, "attrs", false, "if true, print the attributes instead of the content")
	validateCmd.Flags().StringVar(&validateCfg.md5, "md5", "", "expected md5 of the content")
	validateCmd.Flags().StringVar(&validateCfg.id, "id", "", "expected id of the object")
}

func cmdPut(cmd *cobra.Command, args []string) (err error) {
	input, size, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, input.Close()) }()

	ctx, peer, cleanup, err := openPeer(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	res, err := peer.Service.Create(ctx, request(), broker.CreateRequest{
		CreateRequest: archive.CreateRequest{
			Header:     putCfg.header,
			NumericID:  numericID(putCfg.numericID),
			Size:       size,
			ReservedID: putCfg.reservedID,
			ArchivedBy: putCfg.archivedBy,
		},
		Attrs:   putCfg.attrs,
		Content: input,
	})
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func cmdGet(cmd *cobra.Command, args []string) (err error) {
	ctx, peer, cleanup, err := openPeer(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	if getCfg.attrs {
		attrs, err := peer.Service.Get(ctx, request(), args[0], io.Discard)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), attrs)
	}

	output := cmd.OutOrStdout()
	if getCfg.output != "-" {
		file, err := os.Create(getCfg.output)
		if err != nil {
			return errs.Wrap(err)
		}
		defer func() { err = errs.Combine(err, file.Close()) }()
		output = file
	}
	_, err = peer.Service.Get(ctx, request(), args[0], output)
	return err
}

func cmdPatch(cmd *cobra.Command, args []string) (err error) {
	ctx, peer, cleanup, err := openPeer(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	res, err := peer.Service.Patch(ctx, request(), archive.PatchRequest{
		URI:        args[0],
		Attrs:      patchCfg.attrs,
		Preserving: patchCfg.preserving,
		Backup:     patchCfg.backup,
		NumericID:  numericID(patchCfg.numericID),
		ReservedID: patchCfg.reservedID,
	})
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func cmdUpdate(cmd *cobra.Command, args []string) (err error) {
	input, size, err := openInput(args[1])
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, input.Close()) }()

	ctx, peer, cleanup, err := openPeer(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	res, err := peer.Service.Update(ctx, request(), archive.UpdateRequest{
		URI:        args[0],
		Attrs:      updateCfg.attrs,
		Preserving: updateCfg.preserving,
		Backup:     updateCfg.backup,
		ArchivedBy: updateCfg.archivedBy,
		Requestee:  updateCfg.requestee,
		NumericID:  numericID(updateCfg.numericID),
		ReservedID: updateCfg.reservedID,
		Content:    input,
		Size:       size,
	})
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func cmdMove(cmd *cobra.Command, args []string) (err error) {
	from, err := filepath.Abs(args[0])
	if err != nil {
		return errs.Wrap(err)
	}

	ctx, peer, cleanup, err := openPeer(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	res, err := peer.Service.Move(ctx, request(), archive.MoveRequest{
		From:       from,
		Header:     moveCfg.header,
		NumericID:  numericID(moveCfg.numericID),
		ReservedID: moveCfg.reservedID,
		Attrs:      moveCfg.attrs,
		Preserving: moveCfg.preserving,
		Backup:     moveCfg.backup,
		MD5:        moveCfg.md5,
		ArchivedBy: moveCfg.archivedBy,
	})
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func cmdDelete(cmd *cobra.Command, args []string) (err error) {
	ctx, peer, cleanup, err := openPeer(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	res, err := peer.Service.Delete(ctx, request(), args[0])
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func cmdValidate(cmd *cobra.Command, args []string) (err error) {
	ctx, peer, cleanup, err := openPeer(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, cleanup()) }()

	return peer.Service.Validate(ctx, request(), archive.ValidateRequest{
		URI: args[0],
		MD5: validateCfg.md5,
		ID:  validateCfg.id,
	})
}
