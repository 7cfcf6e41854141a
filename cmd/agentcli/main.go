// Command agentcli is an interactive front end for the agent service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/smallnest/hilagent/client"
	"github.com/smallnest/hilagent/log"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8001", "Base URL of agentserver")
	system := flag.String("system", "", "System message sent with every query (server default when empty)")
	debug := flag.Bool("debug", false, "Log API calls and failures to stderr")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := newApp(client.New(*baseURL), os.Stdin, os.Stdout)
	a.systemMessage = *system
	if *debug {
		a.logger = log.Named(log.NewWriterLogger(os.Stderr, log.LogLevelDebug), "agentcli")
	}
	if err := a.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "agentcli: %v\n", err)
		os.Exit(1)
	}
}
