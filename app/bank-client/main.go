package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/paynet/bank-gateway/business/router"
	"github.com/paynet/bank-gateway/external/wire"
	"github.com/pkg/errors"
)

const envPrefix = "PAYNET_BANK_CLIENT"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	var cfg struct {
		ServerAddr  string        `conf:"default:127.0.0.1:5000"`
		DialTimeout time.Duration `conf:"default:5s"`
		IOTimeout   time.Duration `conf:"default:30s"`
		Attempts    int           `conf:"default:3"`
		Backoff     time.Duration `conf:"default:500ms"`
		Type        string        `conf:"required"`
		Data        string        `conf:"default:{}"`
	}

	if err := conf.Parse(os.Args[1:], envPrefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	var data router.Payload
	if err := json.Unmarshal([]byte(cfg.Data), &data); err != nil {
		return errors.Wrap(err, "parsing request data")
	}

	client := wire.NewClient(cfg.ServerAddr, wire.ClientConfig{
		DialTimeout: cfg.DialTimeout,
		IOTimeout:   cfg.IOTimeout,
		Attempts:    cfg.Attempts,
		Backoff:     cfg.Backoff,
	})
	resp, err := client.Send(context.Background(), router.Request{Type: router.Operation(cfg.Type), Data: data})
	if err != nil {
		return errors.Wrap(err, "sending request")
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding response")
	}
	fmt.Println(string(out))
	if !resp.OK() {
		os.Exit(1)
	}
	return nil
}
