package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/murmur/src/murmur"
	"github.com/spf13/cobra"
)

//NewRunCmd returns the command that starts a murmur node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run node",
		RunE:  runMurmur,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runMurmur(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	engine := murmur.NewMurmur(conf)

	if err := engine.Init(); err != nil {
		conf.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return engine.Run(ctx)
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command. Flags are named after the keys of
//murmur.toml.
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log_file", _config.LogFile, "Optional file receiving a copy of the log")
	cmd.Flags().String("nick", _config.Nick, "Name this node signs its messages with")

	// Service
	cmd.Flags().String("rpc_listen", _config.RPCListen, "Listen IP:Port for the HTTP service")
	cmd.Flags().Bool("no_service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().String("datastore", _config.Datastore, "Event graph database directory, empty for an in-mem graph")
	cmd.Flags().String("replay_datastore", _config.ReplayDatastore, "Replay log directory or postgres:// DSN")
	cmd.Flags().Bool("replay_mode", _config.ReplayMode, "Record every accepted event in the replay log")
	cmd.Flags().Int("cache_size", _config.CacheSize, "Number of items in LRU caches")

	// Sync
	cmd.Flags().Int("sync_attempts", _config.SyncAttempts, "Attempts of a sync round before the link is given up")
	cmd.Flags().Int("sync_timeout", _config.SyncTimeout, "Seconds between two sync attempts")
	cmd.Flags().Duration("timeout", _config.Timeout, "Timeout of a request to a peer")
	cmd.Flags().Int("sync_limit", _config.SyncLimit, "Max number of events in a sync response")
	cmd.Flags().Duration("resync_interval", _config.ResyncInterval, "Time between two sync rounds on a link")
	cmd.Flags().Int("max_fetch_depth", _config.MaxFetchDepth, "Max walk back to the parents of orphans")

	// Network
	cmd.Flags().StringSlice("net.inbound", _config.Net.Inbound, "Addresses to listen on")
	cmd.Flags().StringSlice("net.external_addrs", _config.Net.ExternalAddrs, "Addresses advertised to peers")
	cmd.Flags().StringSlice("net.seeds", _config.Net.Seeds, "Bootstrap peers")
	cmd.Flags().StringSlice("net.peers", _config.Net.Peers, "Pinned peers")
	cmd.Flags().StringSlice("net.allowed_transports", _config.Net.AllowedTransports, "tcp, tcp+tls, tor, tor+tls, quic")
	cmd.Flags().Bool("net.transport_mixing", _config.Net.TransportMixing, "Reach clear addresses through tor")
	cmd.Flags().Int("net.outbound_connections", _config.Net.OutboundConnections, "Outbound connection slots")
	cmd.Flags().Int("net.inbound_connections", _config.Net.InboundConnections, "Inbound connection slots")
	cmd.Flags().String("net.tor_socks_addr", _config.Net.TorSocksAddr, "IP:Port of the tor SOCKS5 proxy")
}
