package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/erfianugrah/image-resizer/internal/process"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the image transformation service",
	Long:  `Stop the running image transformation service.`,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	color.Yellow("Stopping %s...", AppName)

	procMgr := process.NewManager(baseDir)

	if !procMgr.IsRunning() {
		color.Yellow("service is not running")
		return nil
	}

	if err := procMgr.Stop(); err != nil {
		return err
	}

	procMgr.CleanupRef()

	color.Green("service stopped successfully")
	return nil
}
