package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API over HTTP.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = svc.Config().HTTP.Addr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("planwatch: listening", "addr", addr, "env", svc.Store().Env())
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-cmd.Context().Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("planwatch: shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the planwatch tools over MCP on stdio.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openService(cmd)
		if err != nil {
			return err
		}
		srv := mcp.NewServer(&mcp.Implementation{Name: "planwatch", Version: "0.1.0"}, nil)
		svc.RegisterMCP(srv)
		return srv.Run(cmd.Context(), &mcp.StdioTransport{})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd, mcpCmd)
}
