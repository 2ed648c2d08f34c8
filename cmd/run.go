package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ponytojas/go-mqtt-hotspot/config"
	"github.com/ponytojas/go-mqtt-hotspot/internal/api"
	"github.com/ponytojas/go-mqtt-hotspot/internal/database"
	"github.com/ponytojas/go-mqtt-hotspot/internal/hardware"
	"github.com/ponytojas/go-mqtt-hotspot/internal/metrics"
	"github.com/ponytojas/go-mqtt-hotspot/internal/mqtt"
	"github.com/ponytojas/go-mqtt-hotspot/internal/node"
)

const archiveQueueSize = 1024

func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, err
	}
	cfg.Verbose, _ = cmd.Flags().GetBool("verbose")
	return cfg, nil
}

// NewRunCommand starts the node
func NewRunCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Joins the peer network and runs the control loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg)
		},
	}
}

// NewConfigCommand prints the effective configuration
func NewConfigCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd, v); err != nil {
				return err
			}
			out, err := yaml.Marshal(v.AllSettings())
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// startArchive runs the archive writer on its own context. The returned stop function
// cancels it, waits for queued reports to be flushed and must be called on every exit path.
func startArchive(ctx context.Context, w database.ReportWriter) (*database.Archiver, func()) {
	actx, cancel := context.WithCancel(ctx)
	archiver := database.NewArchiver(w, archiveQueueSize)
	archiver.Start(actx)

	return archiver, func() {
		cancel()
		archiver.Wait()
		if d, f := archiver.Dropped(), archiver.Failed(); d > 0 || f > 0 {
			log.Printf("Archive dropped %d and failed %d reports", d, f)
		}
	}
}

func runNode(ctx context.Context, cfg *config.Config) error {
	netInfo := hardware.LookupNetInfo()
	ident := cfg.Node.Ident
	if ident == "" {
		ident = hardware.Identity(netInfo)
	}
	log.Printf("Starting hotspot node %s (%s)", ident, binVersion)

	// Sensors
	sim := hardware.NewSimulator(time.Now().UnixNano(), (cfg.Climate.LowTemp+cfg.Climate.HighTemp)/2)
	var sensors node.Sensors = sim
	switch cfg.Hardware.Driver {
	case config.DriverW1:
		log.Printf("Reading temperature from %s", cfg.Hardware.W1Device)
		sensors = hardware.NewW1Probe(cfg.Hardware.W1Device, sim)
	default:
		log.Println("Using simulated sensors")
	}

	// Broker
	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create MQTT client: %w", err)
	}
	defer client.Disconnect()

	m := metrics.New(ident)

	// Optional archive
	var archive node.Archive
	if cfg.Database.Enabled {
		log.Println("Connecting to TimescaleDB...")
		db, err := database.NewTimescaleDB(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		log.Println("Initializing database table...")
		if err := db.InitializeTable(ctx); err != nil {
			return fmt.Errorf("failed to initialize table: %w", err)
		}

		archiver, stopArchive := startArchive(ctx, db)
		defer stopArchive()
		archive = archiver
	}

	n, err := node.New(node.Options{
		Config:    cfg,
		Ident:     ident,
		ClientID:  cfg.MQTT.ClientID,
		NetInfo:   netInfo,
		Transport: client,
		Sensors:   sensors,
		Actuators: hardware.NewLogActuators(),
		Archive:   archive,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Run(gctx)
	})
	if cfg.HTTP.Enabled {
		srv := api.NewServer(cfg.HTTP.Addr, n, m.Handler(), cfg.Verbose)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	log.Println("Shutting down...")
	if dropped := client.Dropped(); dropped > 0 {
		log.Printf("Inbox overflowed %d times", dropped)
	}
	return err
}
