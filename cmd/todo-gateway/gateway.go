package main

// todo-gateway bridges HTTP to the message-broker RPC layer:
// each endpoint performs one round trip through a shared
// Client. Responses pass through as received, including
// synthesized failures ("Request timeout" and friends).

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/glycerine/amqrpc"
	"github.com/glycerine/amqrpc/todo"
	gjson "github.com/goccy/go-json"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var addr = flag.String("addr", ":8080", "http listen address")
	var configPath = flag.String("config", "", "path to amqrpc yaml config; AMQRPC_* env vars override")
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

	cli := amqrpc.NewClient(cfg, amqrpc.AmqpDialer{})
	defer cli.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users", bridge(cli, todo.CreateUser))
	mux.HandleFunc("POST /users/get", bridge(cli, todo.GetUser))
	mux.HandleFunc("POST /users/list", bridge(cli, todo.ListUsers))
	mux.HandleFunc("POST /users/update", bridge(cli, todo.UpdateUser))
	mux.HandleFunc("POST /users/delete", bridge(cli, todo.DeleteUser))
	mux.HandleFunc("POST /items", bridge(cli, todo.CreateItem))
	mux.HandleFunc("POST /items/get", bridge(cli, todo.GetItem))
	mux.HandleFunc("POST /items/list", bridge(cli, todo.ListItems))
	mux.HandleFunc("POST /items/update", bridge(cli, todo.UpdateItem))
	mux.HandleFunc("POST /items/delete", bridge(cli, todo.DeleteItem))

	log.Printf("todo-gateway listening on %v, broker %v\n", *addr, cfg.URL())
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Printf("http server: '%v'\n", err)
		os.Exit(1)
	}
}

// bridge decodes the HTTP body into a fresh In, performs the
// round trip via fn, and writes the reply back as JSON.
func bridge[In any, Resp any](
	cli *amqrpc.Client,
	fn func(context.Context, *amqrpc.Client, *In) (*Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in := new(In)
		if err := gjson.NewDecoder(r.Body).Decode(in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := fn(r.Context(), cli, in)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		gjson.NewEncoder(w).Encode(resp)
	}
}
