package main

import (
	"context"
	"fmt"
	"time"

	"fieldsync/internal/gateway"
	"fieldsync/internal/mockserver"

	"github.com/spf13/cobra"
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Serve an in-memory reference implementation of the remote API",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("listen")
		assignIDs, _ := cmd.Flags().GetBool("assign-ids")

		var opts []mockserver.Option
		if assignIDs {
			opts = append(opts, mockserver.WithAssignedIDs())
		}
		srv := mockserver.NewServer(mockserver.NewBackend(opts...), gateway.RoutePaths(gateway.DefaultRoutes))

		ctx, cancel := signalContext()
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(addr) }()
		fmt.Printf("Mock server listening on %s\n", addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return <-errCh
	},
}
