package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mdsync/mdsync/internal/config"
	"github.com/mdsync/mdsync/internal/logger"
	"github.com/mdsync/mdsync/internal/server"
	"github.com/mdsync/mdsync/internal/store"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "mdsync",
		Short: "mdsync — org snapshot, diff, and deployment server",
	}

	root.AddCommand(
		serveCmd(),
		deploymentsCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
				return err
			}

			st, err := store.Open(cfg.Storage.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			srv := server.New(cfg, st)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if err := srv.RestoreSessions(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "session restore: %v\n", err)
			}

			httpSrv := &http.Server{
				Addr:    cfg.Server.Listen,
				Handler: srv,
			}

			errCh := make(chan error, 1)
			go func() {
				fmt.Printf("mdsync listening on %s\n", cfg.Server.Listen)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				fmt.Println("shutting down...")
				return httpSrv.Close()
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().String("config", "", "config file path")
	return cmd
}

func deploymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "List recent deployment submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Storage.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			deployments, err := st.ListDeployments(limit)
			if err != nil {
				return err
			}
			if len(deployments) == 0 {
				fmt.Println("no deployments recorded")
				return nil
			}
			for _, d := range deployments {
				mode := "deploy"
				if d.CheckOnly {
					mode = "validate"
				}
				fmt.Printf("%s  %s  %s  %d components  job %s\n",
					d.SubmittedAt.Format("2006-01-02 15:04:05"), mode, d.ID, d.ComponentCount, d.JobID)
			}
			return nil
		},
	}
	cmd.Flags().String("config", "", "config file path")
	cmd.Flags().Int("limit", 20, "max rows to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mdsync", version)
		},
	}
}
