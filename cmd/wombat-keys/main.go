// Copyright 2026 The Wombat Authors
// SPDX-License-Identifier: Apache-2.0

// Wombat-keys administers the broker's key store: issuing a secret key
// to an identity, revoking an identity's keys, and listing identities.
//
// An issued key is shown exactly once. With --recipient it is printed
// age-encrypted instead, ready to copy to the agent host and decrypt
// there with the matching identity (see the keygen subcommand).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/hazelnutcloud/wombat/keystore"
	"github.com/hazelnutcloud/wombat/lib/config"
	"github.com/hazelnutcloud/wombat/lib/process"
	"github.com/hazelnutcloud/wombat/lib/sealed"
	"github.com/hazelnutcloud/wombat/lib/secret"
	"github.com/hazelnutcloud/wombat/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return fmt.Errorf("subcommand required")
	}

	subcommand, rest := args[0], args[1:]
	switch subcommand {
	case "issue":
		return runIssue(rest, stdout, stderr)
	case "revoke":
		return runRevoke(rest, stdout, stderr)
	case "list":
		return runList(rest, stdout, stderr)
	case "keygen":
		return runKeygen(stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "wombat-keys %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage(stderr)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: wombat-keys <subcommand> [flags]

Subcommands:
  issue <identity>    Issue a new secret key for identity
  revoke <identity>   Revoke every key held by identity
  list                List identities and their key counts
  keygen              Generate an age keypair for sealed key delivery
  version             Print version information

Run 'wombat-keys <subcommand> --help' for subcommand flags.
`)
}

// storeFlags are shared by the subcommands that open the key store.
type storeFlags struct {
	configPath string
	database   string
}

func newFlagSet(name string, flags *storeFlags, stderr io.Writer) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&flags.configPath, "config", "", "broker config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&flags.database, "database", "", "key store path, overrides the config's database")
	return flagSet
}

func (f *storeFlags) open() (*keystore.Store, error) {
	path := f.database
	if path == "" {
		cfg, err := config.LoadBroker(config.ResolvePath(f.configPath))
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		path = cfg.Database
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return keystore.Open(keystore.Config{Path: path})
}

// identityArgument parses flagSet and returns its single positional
// argument.
func identityArgument(flagSet *pflag.FlagSet, args []string) (string, error) {
	if err := flagSet.Parse(args); err != nil {
		return "", err
	}
	if flagSet.NArg() != 1 {
		return "", fmt.Errorf("%s: exactly one identity is required", flagSet.Name())
	}
	return flagSet.Arg(0), nil
}

func runIssue(args []string, stdout, stderr io.Writer) error {
	var flags storeFlags
	var recipients []string
	flagSet := newFlagSet("issue", &flags, stderr)
	flagSet.StringArrayVar(&recipients, "recipient", nil, "age public key to encrypt the key to (repeatable)")

	identity, err := identityArgument(flagSet, args)
	if err != nil {
		return err
	}

	store, err := flags.open()
	if err != nil {
		return err
	}
	defer store.Close()

	key, err := store.Issue(context.Background(), identity)
	if err != nil {
		return err
	}
	protected, err := secret.NewFromBytes(key[:])
	if err != nil {
		return err
	}
	defer protected.Close()

	if len(recipients) == 0 {
		fmt.Fprintf(stderr, "# Secret key for %s (shown once, store it securely):\n", identity)
		fmt.Fprintf(stdout, "%s\n", protected.Bytes())
		return nil
	}

	armored, err := sealed.Seal(protected.Bytes(), recipients)
	if err != nil {
		return fmt.Errorf("encrypting key: %w", err)
	}
	fmt.Fprintf(stderr, "# Secret key for %s, encrypted to %d recipient(s):\n", identity, len(recipients))
	_, err = stdout.Write(armored)
	return err
}

func runRevoke(args []string, stdout, stderr io.Writer) error {
	var flags storeFlags
	flagSet := newFlagSet("revoke", &flags, stderr)

	identity, err := identityArgument(flagSet, args)
	if err != nil {
		return err
	}

	store, err := flags.open()
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Revoke(context.Background(), identity)
	if errors.Is(err, keystore.ErrNotFound) {
		return fmt.Errorf("%s has no keys", identity)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "revoked %d key(s) for %s\n", removed, identity)
	return nil
}

func runList(args []string, stdout, stderr io.Writer) error {
	var flags storeFlags
	flagSet := newFlagSet("list", &flags, stderr)
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	store, err := flags.open()
	if err != nil {
		return err
	}
	defer store.Close()

	identities, err := store.Identities(context.Background())
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "IDENTITY\tKEYS\tCREATED")
	for _, summary := range identities {
		fmt.Fprintf(writer, "%s\t%d\t%s\n", summary.Identity, summary.Keys, summary.CreatedAt.UTC().Format(time.RFC3339))
	}
	return writer.Flush()
}

// runKeygen prints a new age keypair: the public key on stdout for
// --recipient, the private key on stderr for the agent's
// age_identity_file.
func runKeygen(stdout, stderr io.Writer) error {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	fmt.Fprintf(stderr, "# Private key (save as the agent's age_identity_file):\n%s\n", keypair.PrivateKey.Bytes())
	fmt.Fprintf(stdout, "%s\n", keypair.PublicKey)
	return nil
}
