package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fzft/go-pingpong/log"
	"github.com/fzft/go-pingpong/node"
)

func main() {
	var (
		addr     string
		maxConns int
		debug    bool
	)
	def := node.DefaultConfig()
	flag.StringVar(&addr, "addr", def.Addr, "tcp listen address")
	flag.IntVar(&maxConns, "maxconns", def.MaxConns, "maximum simultaneous connections")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	if err := log.InitLogger(debug); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}

	s := node.NewServerWithConfig(node.Config{Addr: addr, MaxConns: maxConns})
	if err := s.Run(); err != nil {
		os.Exit(1)
	}
}
