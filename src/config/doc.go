// Package config defines the configuration of a murmur node.
//
// Regardless of how murmur is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. The command line
// reads them from flags and from an optional murmur.toml file in the data
// directory. On top of these options, murmur keeps a few files in the data
// directory, Config.DataDir, by default:
//
//	node_key        // hex secp256k1 private key identifying the node (cf. murmur keygen)
//	hostlist        // tab-separated list of known peers
//	eventgraph_db   // badger database of the event graph
//	peers_db        // badger database of the address book
//	replay_db       // badger replay log, when replay_mode is on
//
// Relative paths in the configuration are resolved against the data directory.
//
// Channel secrets, the local dm secret and contact public keys are 32-byte
// keys in base58:
//
//	dm_chacha_secret = "..."
//
//	[channel."#murmur"]
//	secret = "..."
//	topic = "..."
//
//	[contact.alice]
//	dm_chacha_public = "..."
package config
