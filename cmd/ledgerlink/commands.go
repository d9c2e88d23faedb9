package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kimhsiao/ledgerlink/cmd/ledgerlink/handlers"
	"github.com/kimhsiao/ledgerlink/internal/db"
	"github.com/kimhsiao/ledgerlink/internal/logging"
	"github.com/kimhsiao/ledgerlink/internal/models"
	syncpkg "github.com/kimhsiao/ledgerlink/internal/sync"
	"github.com/kimhsiao/ledgerlink/internal/sync/scheduler"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------- migrate ----------------------

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer database.Close()

		m := db.NewMigrator(database)
		if err := m.Up(); err != nil {
			return err
		}
		version, err := m.CurrentVersion()
		if err != nil {
			return err
		}
		fmt.Printf("schema at version %d\n", version)
		return nil
	},
}

// ---------------------- connect / callback / disconnect ----------------------

var connectSandbox bool

var connectCmd = &cobra.Command{
	Use:   "connect <tenant-id>",
	Short: "Print the authorize URL that starts a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.tokens.AuthorizeURL(cmd.Context(), args[0], connectSandbox)
		if err != nil {
			return err
		}
		fmt.Println(u)
		return nil
	},
}

var callbackCmd = &cobra.Command{
	Use:   "callback <tenant-id> <state> <code> <realm-id>",
	Short: "Complete an authorization with the values from the redirect",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		conn, err := a.tokens.CompleteAuthorization(cmd.Context(), args[0], args[1], args[2], args[3])
		if err != nil {
			return err
		}
		return printJSON(conn)
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <connection-id>",
	Short: "Revoke the tokens of a connection and deactivate it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.tokens.Disconnect(cmd.Context(), models.UUID(args[0])); err != nil {
			return err
		}
		fmt.Printf("connection %s disconnected\n", args[0])
		return nil
	},
}

// ---------------------- sync ----------------------

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run sync invocations",
}

var syncDirection string

var syncEntityCmd = &cobra.Command{
	Use:   "entity <connection-id> <local-type> <local-id>",
	Short: "Sync exactly one record",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.SyncEntity(cmd.Context(), syncpkg.EntityRequest{
			ConnectionID: models.UUID(args[0]),
			LocalType:    args[1],
			LocalID:      args[2],
			Direction:    models.Direction(syncDirection),
		})
		if perr := printJSON(res); perr != nil {
			return perr
		}
		return err
	},
}

var bulkIDs []string

var syncBulkCmd = &cobra.Command{
	Use:   "bulk <connection-id> <entity-type|all>",
	Short: "Enqueue unsynced records for the queue drainer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.SyncBulk(cmd.Context(), syncpkg.BulkRequest{
			ConnectionID: models.UUID(args[0]),
			EntityType:   args[1],
			LocalIDs:     bulkIDs,
			Direction:    models.DirectionPush,
		})
		if perr := printJSON(res); perr != nil {
			return perr
		}
		return err
	},
}

var syncRefetchCmd = &cobra.Command{
	Use:   "refetch <connection-id> <local-type> <local-id>",
	Short: "Store the current remote version token of a record after a conflict",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.engine.RefetchVersionToken(cmd.Context(), models.UUID(args[0]), args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

// ---------------------- drain / serve ----------------------

var drainWatch bool

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Sync due entries of the pending sync queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		d := scheduler.NewDrainer(a.engine, a.queue, &scheduler.Config{
			Interval: cfg.Sync.DrainInterval,
			Batch:    cfg.Sync.DrainBatch,
		})
		if !drainWatch {
			report, err := d.DrainOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		d.Start(ctx)
		<-ctx.Done()
		d.Stop()
		return nil
	},
}

var serveWithDrainer bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the OAuth redirect, manual sync triggers and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveWithDrainer {
			d := scheduler.NewDrainer(a.engine, a.queue, &scheduler.Config{
				Interval: cfg.Sync.DrainInterval,
				Batch:    cfg.Sync.DrainBatch,
			})
			d.Start(ctx)
			defer d.Stop()
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handlers.NewHandler(a.tokens, a.engine, a.repo).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logging.Info("http server listening", map[string]interface{}{"addr": cfg.Server.Addr})
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	connectCmd.Flags().BoolVar(&connectSandbox, "sandbox", false, "connect a sandbox company")

	syncEntityCmd.Flags().StringVar(&syncDirection, "direction", string(models.DirectionPush),
		"push sends the record, pull reads the remote counterpart back")
	syncBulkCmd.Flags().StringSliceVar(&bulkIDs, "ids", nil,
		"explicit local ids ("+strings.Join(models.SupportedLocalTypes(), ", ")+" only, not all)")
	syncCmd.AddCommand(syncEntityCmd, syncBulkCmd, syncRefetchCmd)

	drainCmd.Flags().BoolVar(&drainWatch, "watch", false, "keep draining every sync.drain_interval until interrupted")
	serveCmd.Flags().BoolVar(&serveWithDrainer, "drain", false, "also run the queue drainer in the background")

	rootCmd.AddCommand(migrateCmd, connectCmd, callbackCmd, disconnectCmd, syncCmd, drainCmd, serveCmd)
}
