package main

import (
	bump "github.com/bumpkit/bumpkit/pkg"
	"github.com/bumpkit/bumpkit/pkg/core"
	"github.com/bumpkit/bumpkit/pkg/pooltracker"
	"github.com/bumpkit/bumpkit/pkg/receivers"
	"github.com/bumpkit/bumpkit/pkg/store"
	"github.com/bumpkit/bumpkit/pkg/webapi"
	"github.com/bumpkit/bumpkit/pkg/conductor"
)

func Server(conf bump.Config) {

	c := conductor.NewConductor(
		conductor.HookSignals(),
		conductor.Noisy(),
	)

	// Start the MessageBus Service
	bus := bump.NewMessageBus()
	c.Service("MessageBus", bus)

	// Set up all configured receivers
	receivers.SetUpReceivers(c, bus, conf)

	// Set up the L1 interface to Core
	l1, err := core.NewBitcoinCoreRPC(conf)
	if err != nil {
		panic(err)
	}

	// Setup a Store
	db, err := store.NewSQLiteStore(conf.Store.DBFile)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// Start the Pool Tracker
	chaser, err := pooltracker.StartPoolTracker(c, conf, l1, db, bus)
	if err != nil {
		panic(err)
	}

	// Start the Core listener service (ZMQ)
	corez, err := core.NewCoreReceiver(bus, conf)
	if err != nil {
		panic(err)
	}
	corez.Subscribe(chaser.ReceiveFromCore)
	c.Service("ZMQ Listener", corez)

	api := bump.NewAPI(db, l1, bus, conf)

	// Start the Bump API
	w, err := webapi.NewWebAPI(conf, api)
	if err != nil {
		panic(err)
	}
	c.Service("Bump API", w)

	<-c.Start()
}
