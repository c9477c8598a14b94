package commands

import (
	"fmt"

	"github.com/mosaicnetworks/murmur/src/common"
	"github.com/mosaicnetworks/murmur/src/eventgraph"
	"github.com/mosaicnetworks/murmur/src/messaging"
	"github.com/spf13/cobra"
)

// NewReplayCmd produces a command that prints the replay log in receipt
// order, decrypting what the configured keys open.
func NewReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Print the replay log",
		RunE:  replay,
	}
}

func replay(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tables, err := conf.MessagingTables()
	if err != nil {
		return err
	}

	// Decode only: nothing is published or delivered.
	messenger := messaging.NewMessenger(conf.Nick, tables, nil, nil, conf.Logger())

	log, err := eventgraph.OpenReplayLog(conf.ReplayPath(), conf.Logger())
	if err != nil {
		return fmt.Errorf("opening replay log: %w", err)
	}
	defer log.Close()

	out := cmd.OutOrStdout()

	return log.Iterate(func(r eventgraph.ReplayRecord) error {
		_, err := fmt.Fprintf(out, "%6d %s %-10s %s %s\n",
			r.Seq,
			r.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			common.ShortID(r.Source),
			common.ShortID(r.Event.Hex()),
			messenger.Decode(r.Event))
		return err
	})
}
