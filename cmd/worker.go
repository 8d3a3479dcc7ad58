package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the delivery engine without the REST API",
	Run:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) {
	engineCtx, stopEngine := context.WithCancel(context.Background())
	poller.StartLoop(engineCtx)

	logrus.Info("[WORKER] Delivery engine started, waiting for termination signal")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logrus.Info("[WORKER] Termination signal received, shutting down gracefully...")
	stopEngine()
	workerPool.Stop()
}
