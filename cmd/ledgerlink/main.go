// Command ledgerlink connects tenants to their accounting company and
// syncs local business records into it.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/ledgerlink/internal/config"
	"github.com/kimhsiao/ledgerlink/internal/connection"
	"github.com/kimhsiao/ledgerlink/internal/crypto"
	"github.com/kimhsiao/ledgerlink/internal/db"
	"github.com/kimhsiao/ledgerlink/internal/gateway"
	"github.com/kimhsiao/ledgerlink/internal/logging"
	syncpkg "github.com/kimhsiao/ledgerlink/internal/sync"
	"github.com/kimhsiao/ledgerlink/internal/sync/queue"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ledgerlink",
	Short: "Sync construction records into an accounting company",
	Long: `ledgerlink keeps one OAuth connection per tenant and company, pushes
subcontractors, projects, payment applications and change orders to the
accounting API, and records a mapping and an audit log for every attempt.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logging.InitWithFormat(os.Stderr, logging.ParseLevel(cfg.Log.Level),
			logging.LogFormat(strings.ToUpper(cfg.Log.Format)))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
}

// app holds the wired components of one command run.
type app struct {
	database *db.DB
	repo     *db.Repository
	records  *db.RecordSource
	tokens   *connection.Manager
	remote   *gateway.Client
	queue    *queue.Queue
	engine   *syncpkg.Engine
}

// openApp opens the store and wires every component. Commands that talk
// to the remote system validate the configuration first.
func openApp(requireCredentials bool) (*app, error) {
	if requireCredentials {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	database, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	a := &app{database: database}
	a.repo = db.NewRepository(database, db.WithTokenCipher(crypto.NewTokenCipher(cfg.Crypto.TokenKey)))
	a.records = db.NewRecordSource(database)
	a.tokens = connection.NewManager(a.repo, a.repo, cfg.OAuth)
	a.remote = gateway.NewClient(cfg.API)
	a.queue = queue.NewQueue(a.repo, cfg.Sync.MaxAttempts)
	a.engine = syncpkg.NewEngine(a.repo, a.records, a.tokens, a.remote, a.queue,
		syncpkg.WithBatchCeiling(cfg.Sync.BatchCeiling))
	return a, nil
}

func (a *app) Close() {
	logging.Get().Sync()
	a.database.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
