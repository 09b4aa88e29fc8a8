// Command fanoutd serves resilient fan-out lookups over HTTP.
//
// Usage:
//
//	fanoutd [-config path] [-env path] [-version]
//
// Configuration is read from config.yml (see cmd/fanoutd/config.yml) and
// FANOUT_-prefixed environment variables, e.g. FANOUT_SERVER_PORT=9090.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kbukum/fanout/config"
	"github.com/kbukum/fanout/logger"
	"github.com/kbukum/fanout/version"
)

const serviceName = "fanoutd"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	configFile := fs.String("config", "", "path to config.yml")
	envFile := fs.String("env", "", "path to a .env file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Println(version.Get().String())
		return 0
	}

	cfg := &Config{}
	opts := []config.LoaderOption{config.WithEnvPrefix("FANOUT")}
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	if err := config.Load(serviceName, cfg, opts...); err != nil {
		fmt.Fprintf(os.Stderr, "fanoutd: %v\n", err)
		return 1
	}

	app, _, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fanoutd: %v\n", err)
		return 1
	}
	if err := app.Run(context.Background()); err != nil {
		app.Logger.Error("fanoutd exited with error", logger.Fields(logger.FieldError, err.Error()))
		return 1
	}
	return 0
}
