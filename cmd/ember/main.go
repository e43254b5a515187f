package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/inconshreveable/log15"

	"github.com/emberchain/ember/check"
	"github.com/emberchain/ember/evm"
	"github.com/emberchain/ember/node"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := getViper()
	if err != nil {
		fmt.Printf("couldn't load config: %s\n", err)
		return check.ExitFail
	}

	lvl, err := log.LvlFromString(cfg.GetString(logLevelKey))
	if err != nil {
		lvl = log.LvlInfo
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stdout, log.TerminalFormat())))
	check.SetStrict(cfg.GetBool(strictKey))

	n, err := node.New(cfg, evm.UnavailableVM{})
	if err != nil {
		log.Error("node initialization failed", "err", err)
		return check.ExitFail
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("shutting down", "signal", sig)
		n.Stop()
	}()

	if err := n.Run(); err != nil {
		log.Error("node stopped", "err", err)
		return check.ExitFail
	}
	return check.ExitOK
}
