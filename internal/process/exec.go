// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// EnvPrefix is the prefix of environment variables that override flags.
const EnvPrefix = "casper"

// DefaultConfigDir returns the directory holding the configuration of the
// named program.
func DefaultConfigDir(name string) string {
	if name == "" {
		name = filepath.Base(os.Args[0])
	}
	path := filepath.Join(".casper", name)
	home, err := homedir.Dir()
	if err != nil {
		log.Println(err)
		return path
	}
	return filepath.Join(home, path)
}

// Viper returns a viper bound to the flags of cmd, reading environment
// variables with EnvPrefix and the file named by the config flag, if any.
func Viper(cmd *cobra.Command) (*viper.Viper, error) {
	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return nil, errs.Wrap(err)
	}
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
		path := f.Value.String()
		if _, err := os.Stat(path); err == nil {
			vip.SetConfigFile(path)
			if err := vip.ReadInConfig(); err != nil {
				return nil, errs.Wrap(err)
			}
		} else if f.Changed {
			return nil, Error.New("config file %q: %v", path, err)
		}
	}
	return vip, nil
}

// Exec runs a Cobra command. Flags that were not set on the command line
// take their value from the environment or the configuration file.
func Exec(cmd *cobra.Command) {
	Must(cleanup(cmd))
	Must(cmd.Execute())
}

func cleanup(cmd *cobra.Command) error {
	for _, child := range cmd.Commands() {
		if err := cleanup(child); err != nil {
			return err
		}
	}

	run, runE := cmd.Run, cmd.RunE
	if run == nil && runE == nil {
		return nil
	}
	cmd.Run = nil
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := ApplySettings(cmd); err != nil {
			return err
		}
		if runE != nil {
			return runE(cmd, args)
		}
		run(cmd, args)
		return nil
	}
	return nil
}

// ApplySettings copies viper settings onto the flags of cmd the user did
// not change explicitly.
func ApplySettings(cmd *cobra.Command) error {
	vip, err := Viper(cmd)
	if err != nil {
		return err
	}

	var group errs.Group
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !vip.IsSet(f.Name) {
			return
		}
		value := vip.Get(f.Name)
		if values, ok := value.([]interface{}); ok {
			parts := make([]string, 0, len(values))
			for _, v := range values {
				parts = append(parts, fmt.Sprint(v))
			}
			value = strings.Join(parts, ",")
		}
		if slice, ok := value.([]string); ok {
			value = strings.Join(slice, ",")
		}
		if err := cmd.Flags().Set(f.Name, fmt.Sprint(value)); err != nil {
			group.Add(Error.New("invalid value for %q: %v", f.Name, err))
		}
	})
	return group.Err()
}

// Ctx returns a context for cmd that is canceled on SIGINT or SIGTERM.
func Ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Must checks for errors
func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
