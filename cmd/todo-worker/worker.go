package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/glycerine/amqrpc"
	"github.com/glycerine/amqrpc/todo"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath = flag.String("config", "", "path to amqrpc yaml config; AMQRPC_* env vars override")
	var dbPath = flag.String("db", "todo.db", "path to the sqlite database")
	flag.Parse()

	var cfg *amqrpc.Config
	var err error
	if *configPath != "" {
		cfg, err = amqrpc.LoadConfigFile(*configPath)
		if err != nil {
			log.Printf("bad config: '%v'\n", err)
			os.Exit(1)
		}
	} else {
		cfg = amqrpc.NewConfig()
	}
	cfg.ApplyEnv()

	store, err := todo.OpenStore(*dbPath)
	if err != nil {
		log.Printf("could not open store: '%v'\n", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := amqrpc.NewServer(cfg, amqrpc.AmqpDialer{})
	if err := todo.RegisterAll(srv, todo.NewService(store)); err != nil {
		log.Printf("registration failed: '%v'\n", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		log.Printf("could not start: '%v'\n", err)
		os.Exit(1)
	}
	log.Printf("todo-worker consuming '%v' and '%v' on %v\n",
		todo.UserQueue, todo.ItemQueue, cfg.URL())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")
	srv.Close()
}
