package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/erfianugrah/image-resizer/internal/process"
	"github.com/erfianugrah/image-resizer/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the image transformation service",
	Long:  `Start the edge image transformation service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"storage_sources", len(cfg.Storage.Priority),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		if err := cfgMgr.Watch(logger, stopWatch); err != nil {
			logger.Warn("config hot-reload unavailable", "error", err)
		}
	}()

	srv, err := server.New(cfgMgr, logger)
	if err != nil {
		return err
	}
	return srv.Start()
}
