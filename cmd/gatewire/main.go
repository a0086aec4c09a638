/************************************************************************************
 *
 * gatewire, a Lightweight Go client for the Discord Gateway protocol
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

// Command gatewire connects a shard group to the Discord Gateway and logs
// every dispatched event name. It is a minimal demonstration of the gateway
// package, not a bot framework.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marouanesouiri/stdx/xlog"

	"github.com/nullshard/gatewire/gateway"
	"github.com/nullshard/gatewire/gatewayerr"
)

func main() {
	token := flag.String("token", os.Getenv("GATEWIRE_TOKEN"), "bot token")
	compress := flag.Bool("compress", true, "use zlib-stream transport compression")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "gatewire: -token or GATEWIRE_TOKEN is required")
		os.Exit(1)
	}

	logger := xlog.NewTextLogger(os.Stdout, xlog.LogLevelInfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := gateway.NewBootstrapRequester()
	info, err := bootstrap.GetBotGateway(ctx, *token)
	if err != nil {
		logger.WithField("error", err).Error("failed to fetch recommended gateway")
		os.Exit(1)
	}
	logger.WithFields(map[string]any{
		"url":    info.URL,
		"shards": info.Shards,
	}).Info("fetched recommended gateway")

	dispatch := func(s *gateway.Session, event string, payload json.RawMessage) {
		logger.WithFields(map[string]any{
			"shard_id": s.ShardID(),
			"event":    event,
		}).Info("dispatch")
	}

	mgr := gateway.NewManager(gateway.ManagerConfig{
		Token:          *token,
		URL:            info.URL,
		TotalShards:    info.Shards,
		MaxConcurrency: info.SessionStartLimit.MaxConcurrency,
		Logger:         logger,
		SessionOptions: []gateway.Option{
			gateway.WithCompression(*compress),
			gateway.WithDispatch(dispatch),
			gateway.WithLogger(logger),
		},
	})

	err = mgr.Run(ctx, func(s *gateway.Session, connErr error) bool {
		if gatewayerr.Classify(connErr) == gatewayerr.ClassFatal {
			logger.WithFields(map[string]any{
				"shard_id": s.ShardID(),
				"error":    connErr,
			}).Error("fatal gateway error, not retrying")
			return false
		}
		logger.WithFields(map[string]any{
			"shard_id": s.ShardID(),
			"error":    connErr,
		}).Info("reconnecting after delay")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(2 * time.Second):
			return true
		}
	})
	if err != nil && err != context.Canceled {
		logger.WithField("error", err).Error("manager stopped")
		os.Exit(1)
	}
}
