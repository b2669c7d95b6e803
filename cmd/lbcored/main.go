// Command lbcored bootstraps the IPVS driver, a set of VRRP nodes, and the
// health-check engine behind a control-agent proxy socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/lbcore/internal/config"
	"github.com/yanet-platform/lbcore/internal/healthcheck"
	"github.com/yanet-platform/lbcore/internal/ipvs"
	"github.com/yanet-platform/lbcore/internal/logging"
	"github.com/yanet-platform/lbcore/internal/vrrp"
	"github.com/yanet-platform/lbcore/internal/xcmd"
)

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is an explicit config file path; when empty, the standard
	// search path is consulted.
	ConfigPath string
	// ServicesPath, if set, provisions IPVS services/destinations and starts
	// VRRP nodes from a desired-state file.
	ServicesPath string
}

var cmd Cmd

var rootCmd = &cobra.Command{
	Use:   "lbcored",
	Short: "L4 load-balancer control-plane core: IPVS driver, VRRP, health checks",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := run(cmd); err != nil {
			if errors.Is(err, xcmd.Interrupted{}) {
				return nil
			}
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (search path consulted if unset)")
	rootCmd.Flags().StringVarP(&cmd.ServicesPath, "services", "s", "", "Path to a services file provisioning IPVS services and VRRP virtual routers")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	var cfg *config.Config
	var err error
	if cmd.ConfigPath != "" {
		cfg, err = config.LoadFile(cmd.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)

	manager := healthcheck.NewManager(ctx, log.Named("healthcheck.manager"))

	updates := healthcheck.NewConfigTask(cfg.Channels.ConfigUpdate, manager, log.Named("healthcheck.config"))

	proxy := healthcheck.NewProxy(cfg.Server.ProxySocket, manager, updates, cfg.Channels.ProxyMessage, log.Named("healthcheck.proxy"))

	notifier := healthcheck.NewNotifier(
		cfg.Channels.Notification,
		cfg.Batching.MaxSize,
		cfg.Batching.Delay,
		proxy.Send,
		log.Named("healthcheck.notifier"),
	)

	poller := healthcheck.NewPoller(manager, cfg.Manager.MonitorInterval, notifier.Enqueue, log.Named("healthcheck.poller"))

	var handle *ipvs.Handle
	if cmd.ServicesPath != "" {
		services, err := config.LoadServices(cmd.ServicesPath)
		if err != nil {
			return fmt.Errorf("failed to load services: %w", err)
		}

		handle, err = ipvs.New()
		if err != nil {
			return fmt.Errorf("failed to open IPVS handle: %w", err)
		}
		defer handle.Close()

		if err := provisionServices(handle, services.Services); err != nil {
			return fmt.Errorf("failed to provision IPVS services: %w", err)
		}

		nodes, err := buildVRRPNodes(services.VirtualRouters, log)
		if err != nil {
			return fmt.Errorf("failed to build VRRP nodes: %w", err)
		}
		for _, node := range nodes {
			node := node
			wg.Go(func() error {
				return node.Run(ctx)
			})
		}
	}

	wg.Go(func() error {
		return proxy.Serve()
	})
	wg.Go(func() error {
		return updates.Run(ctx)
	})
	wg.Go(func() error {
		return notifier.Run(ctx)
	})
	wg.Go(func() error {
		return poller.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		manager.StopAll()
		return err
	})

	return wg.Wait()
}
