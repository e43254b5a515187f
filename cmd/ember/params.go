package main

import (
	"flag"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configKey = "config"

	listenAddrKey = "net.listen_addr"
	publicPortKey = "net.public_port"
	nodesKey      = "net.nodes"
	rpcAddressKey = "rpc.address"
	keysDirKey    = "keys.directory"
	complexityKey = "miner.complexity"
	dbPathKey     = "db.path"
	logLevelKey   = "log.level"
	strictKey     = "strict"
)

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("ember", flag.ContinueOnError)

	fs.String(configKey, "", "path to a config file")
	fs.String(listenAddrKey, "0.0.0.0:20203", "address the p2p host listens on")
	fs.Uint(publicPortKey, 20203, "port advertised to peers; 0 disables inbound announcements")
	fs.String(nodesKey, "", "comma separated seed peers")
	fs.String(rpcAddressKey, "127.0.0.1:50051", "address the RPC server listens on")
	fs.String(keysDirKey, "keys", "directory holding the node key")
	fs.String(complexityKey, "", "mining target as big-endian hex")
	fs.String(dbPathKey, "", "database directory; empty keeps state in memory")
	fs.String(logLevelKey, "info", "log level: debug, info, warn, error")
	fs.Bool(strictKey, false, "treat violated invariants as fatal")

	return fs
}

// getViper binds flags, environment and the optional config file into one
// configuration.
func getViper() (*viper.Viper, error) {
	v := viper.New()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	if configPath := v.GetString(configKey); configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}
