package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/murmur/src/crypto"
	"github.com/mosaicnetworks/murmur/src/crypto/box"
	"github.com/mosaicnetworks/murmur/src/crypto/keys"
	"github.com/mosaicnetworks/murmur/src/murmur"
	"github.com/spf13/cobra"
)

var (
	keygenBox    bool
	keygenSecret bool
)

// NewKeygenCmd produces a KeygenCmd which creates key material
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a node key, a DM key pair or a channel secret",
		Long: `Create key material.

Without options, a new node identity key is written to [datadir]/node_key.
--box prints a new DM key pair: the secret goes to dm_chacha_secret, the public
key is given to contacts. --secret prints a new channel secret.`,
		RunE: keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&keygenBox, "box", false, "Print a new DM key pair instead")
	cmd.Flags().BoolVar(&keygenSecret, "secret", false, "Print a new channel secret instead")
}

func keygen(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	switch {
	case keygenBox:
		secret, public, err := box.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("generating DM key pair: %w", err)
		}
		fmt.Fprintf(out, "dm_chacha_secret = %q\n", crypto.EncodeKey(secret[:]))
		fmt.Fprintf(out, "dm_chacha_public = %q\n", crypto.EncodeKey(public[:]))
		return nil
	case keygenSecret:
		secret, err := box.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generating channel secret: %w", err)
		}
		fmt.Fprintf(out, "secret = %q\n", crypto.EncodeKey(secret[:]))
		return nil
	}

	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	keyfile := conf.Keyfile()

	if err := os.MkdirAll(filepath.Dir(keyfile), 0700); err != nil {
		return fmt.Errorf("writing node key: %w", err)
	}

	key, err := murmur.Keygen(keyfile)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Your node key has been saved to: %s\n", keyfile)
	fmt.Fprintf(out, "Public key: %s\n", keys.PublicKeyHex(key.PubKey()))

	return nil
}
