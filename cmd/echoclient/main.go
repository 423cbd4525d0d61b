// Command echoclient is a load generator for echo servers: it opens a number
// of concurrent connections, drives verified echo round trips over each, and
// reports latency and throughput at the end.
package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/echo-server/echoclient"
	"github.com/cyberinferno/echo-server/perfmonitor"
	"github.com/cyberinferno/echo-server/safeset"
	"github.com/cyberinferno/echo-server/utils"
)

type loadOptions struct {
	address     string
	connections int
	requests    int
	payloadSize int
	echoTimeout time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := loadOptions{}

	cmd := &cobra.Command{
		Use:          "echoclient",
		Short:        "Load generator for echo servers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.address, "address", "a", "127.0.0.1:7777", "echo server address")
	cmd.Flags().IntVarP(&opts.connections, "connections", "n", 10, "number of concurrent connections")
	cmd.Flags().IntVarP(&opts.requests, "requests", "r", 100, "round trips per connection")
	cmd.Flags().IntVarP(&opts.payloadSize, "payload-size", "s", 256, "payload size in bytes")
	cmd.Flags().DurationVarP(&opts.echoTimeout, "timeout", "t", 10*time.Second, "per round-trip timeout")
	return cmd
}

func runLoad(cmd *cobra.Command, opts loadOptions) error {
	if opts.connections < 1 || opts.requests < 1 || opts.payloadSize < 1 {
		return fmt.Errorf("echoclient: connections, requests, and payload-size must all be positive")
	}

	inFlight := safeset.NewSafeSet[int]()
	var roundTrips, failures atomic.Uint64
	var totalLatencyMicros atomic.Uint64

	monitor := perfmonitor.NewPerformanceMonitor()
	monitor.Start()

	var g errgroup.Group
	for i := 0; i < opts.connections; i++ {
		worker := i
		g.Go(func() error {
			inFlight.Add(worker)
			defer inFlight.Remove(worker)
			return runConnection(opts, &roundTrips, &failures, &totalLatencyMicros)
		})
	}

	err := g.Wait()
	monitor.Stop()

	if stragglers := inFlight.Size(); stragglers > 0 {
		cmd.Printf("warning: %d connections still marked in flight\n", stragglers)
	}

	report(cmd, opts, roundTrips.Load(), failures.Load(), totalLatencyMicros.Load(), monitor.ElapsedMilliseconds())
	return err
}

func runConnection(opts loadOptions, roundTrips, failures, totalLatencyMicros *atomic.Uint64) error {
	cfg := echoclient.DefaultConfig(opts.address)
	cfg.EchoTimeout = opts.echoTimeout

	client := echoclient.New(cfg)
	defer func() { _ = client.Close() }()

	client.OnRoundTrip(func(event echoclient.RoundTripEvent) {
		roundTrips.Add(1)
		totalLatencyMicros.Add(uint64(event.ElapsedMs * 1000))
	})

	if err := client.Connect(); err != nil {
		failures.Add(uint64(opts.requests))
		return err
	}

	payload := []byte(utils.GenerateRandomString(opts.payloadSize))
	for r := 0; r < opts.requests; r++ {
		if err := client.Echo(payload); err != nil {
			failures.Add(1)
			return err
		}
	}

	return nil
}

func report(cmd *cobra.Command, opts loadOptions, roundTrips, failures, totalLatencyMicros uint64, elapsedMs float64) {
	cmd.Printf("connections:      %d\n", opts.connections)
	cmd.Printf("payload size:     %d bytes\n", opts.payloadSize)
	cmd.Printf("round trips:      %d\n", roundTrips)
	cmd.Printf("failures:         %d\n", failures)
	cmd.Printf("elapsed:          %.1f ms\n", elapsedMs)

	if roundTrips > 0 {
		avgLatencyMs := float64(totalLatencyMicros) / float64(roundTrips) / 1000
		cmd.Printf("avg latency:      %.3f ms\n", avgLatencyMs)
	}
	if elapsedMs > 0 {
		cmd.Printf("throughput:       %.0f round trips/s\n", float64(roundTrips)/(elapsedMs/1000))
	}
}
