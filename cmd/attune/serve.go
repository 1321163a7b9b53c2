package main

import (
	srv "github.com/attunehealth/attune/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the companion HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.Run(cfgPath, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
