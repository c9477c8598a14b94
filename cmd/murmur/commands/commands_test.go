package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mosaicnetworks/murmur/src/config"
	"github.com/mosaicnetworks/murmur/src/crypto"
	"github.com/spf13/cobra"
)

func newTestRoot(cmd *cobra.Command, datadir string) (*cobra.Command, *bytes.Buffer) {
	root := &cobra.Command{
		Use:              "murmur",
		TraverseChildren: true,
		SilenceUsage:     true,
		SilenceErrors:    true,
	}
	root.PersistentFlags().String("datadir", datadir, "")
	root.AddCommand(cmd)

	out := new(bytes.Buffer)
	root.SetOutput(out)

	return root, out
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()

	root, out := newTestRoot(NewKeygenCmd(), dir)
	root.SetArgs([]string{"keygen"})
	if err := root.Execute(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, config.DefaultKeyfile)); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(out.String(), "Public key: ") {
		t.Fatalf("unexpected output %q", out.String())
	}

	// a key already lives there
	root, _ = newTestRoot(NewKeygenCmd(), dir)
	root.SetArgs([]string{"keygen"})
	if err := root.Execute(); err == nil {
		t.Fatalf("keygen should not overwrite a key")
	}
}

func TestKeygenSecret(t *testing.T) {
	root, out := newTestRoot(NewKeygenCmd(), t.TempDir())
	root.SetArgs([]string{"keygen", "--secret"})
	if err := root.Execute(); err != nil {
		t.Fatalf("err: %v", err)
	}

	line := strings.TrimSpace(out.String())
	if !strings.HasPrefix(line, "secret = ") {
		t.Fatalf("unexpected output %q", line)
	}
	if _, err := crypto.DecodeKey32(strings.Trim(strings.TrimPrefix(line, "secret = "), `"`)); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	content := `nick = "zed"
sync_attempts = 4

[net]
seeds = ["tcp://10.0.0.2:7337"]
`
	if err := os.WriteFile(filepath.Join(dir, "murmur.toml"), []byte(content), 0600); err != nil {
		t.Fatalf("err: %v", err)
	}

	var conf *config.Config
	cmd := &cobra.Command{
		Use: "run",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			conf, err = loadConfig(cmd)
			return err
		},
	}
	AddRunFlags(cmd)

	// flags override the file, the file overrides the defaults
	root, _ := newTestRoot(cmd, dir)
	root.SetArgs([]string{"run", "--sync_attempts", "5", "--net.peers", "tcp://10.0.0.3:7337"})
	if err := root.Execute(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if conf.DataDir != dir {
		t.Fatalf("datadir should be %s, not %s", dir, conf.DataDir)
	}
	if conf.ConfigFile != filepath.Join(dir, "murmur.toml") {
		t.Fatalf("config file should be found, got %q", conf.ConfigFile)
	}
	if conf.Nick != "zed" {
		t.Fatalf("nick should be zed, not %s", conf.Nick)
	}
	if conf.SyncAttempts != 5 {
		t.Fatalf("sync_attempts should be 5, not %d", conf.SyncAttempts)
	}
	if !reflect.DeepEqual(conf.Net.Seeds, []string{"tcp://10.0.0.2:7337"}) {
		t.Fatalf("unexpected seeds %v", conf.Net.Seeds)
	}
	if !reflect.DeepEqual(conf.Net.Peers, []string{"tcp://10.0.0.3:7337"}) {
		t.Fatalf("unexpected peers %v", conf.Net.Peers)
	}
	if !reflect.DeepEqual(conf.Net.AllowedTransports, config.DefaultAllowedTransports) {
		t.Fatalf("unexpected transports %v", conf.Net.AllowedTransports)
	}
}
