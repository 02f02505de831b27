// Command checkgatectl administers a checkgate database directly: checkers,
// checks, the mirrored change index, pending check queries, the submit rule
// and the checks history of a change.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/checkgate/internal/adapter/driven/checklog"
	sqliteadapter "github.com/ericfisherdev/checkgate/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/checkgate/internal/adapter/driven/statecache"
	"github.com/ericfisherdev/checkgate/internal/application"
	"github.com/ericfisherdev/checkgate/internal/config"
)

func main() {
	a := &app{}
	err := newRootCmd(a, os.Stdout).Execute()
	if closeErr := a.close(); closeErr != nil {
		slog.Error("error closing database", "error", closeErr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// app holds the services a command runs against. It is opened by
// PersistentPreRunE so that --help works without a database.
type app struct {
	out io.Writer

	dbPath   string
	cacheDir string

	db       *sqliteadapter.DB
	states   *statecache.Store
	changes  *sqliteadapter.ChangeRepo
	checks   *checklog.CheckRepo
	checkSvc *application.CheckService
	checkers *application.CheckerService
	pending  *application.PendingChecksService
	submit   *application.SubmitRule
}

func newRootCmd(a *app, out io.Writer) *cobra.Command {
	a.out = out

	root := &cobra.Command{
		Use:          "checkgatectl",
		Short:        "Administer checkers and checks of a checkgate database",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.open()
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	cfg, err := config.Load()
	if err != nil {
		// Flags still allow running with explicit paths.
		slog.Warn("config not loaded, using flag defaults", "error", err)
		cfg = &config.Config{DBPath: "checkgate.db"}
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", cfg.DBPath, "path of the checkgate database")
	root.PersistentFlags().StringVar(&a.cacheDir, "cache-dir", cfg.CacheDir,
		"combined state cache directory; empty keeps the cache in memory")

	root.AddCommand(
		newCheckerCmd(a),
		newCheckCmd(a),
		newChangeCmd(a),
		newPendingCmd(a),
		newSubmitCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) open() error {
	if a.db != nil {
		return nil
	}

	db, err := sqliteadapter.NewDB(a.dbPath)
	if err != nil {
		return err
	}

	cacheCfg := statecache.DefaultConfig(a.cacheDir)
	cacheCfg.InMemory = a.cacheDir == ""
	cacheCfg.GCInterval = 0
	states, err := statecache.Open(cacheCfg)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("open state cache (is the server running? use the REST API instead): %w", err)
	}

	revisions := sqliteadapter.NewRevisionLog(db)
	checkerStore := checklog.NewCheckerRepo(revisions, checklog.DefaultRetryPolicy(), nil)
	checkStore := checklog.NewCheckRepo(revisions, checkerStore, checklog.DefaultRetryPolicy(), nil)
	changes := sqliteadapter.NewChangeRepo(db)

	checkSvc := application.NewCheckService(checkStore, checkerStore, changes, states,
		application.NewLogNotifier(slog.Default()), nil, nil)
	checkStore.AddListener(checkSvc.StateCache())

	a.db = db
	a.states = states
	a.changes = changes
	a.checks = checkStore
	a.checkSvc = checkSvc
	a.checkers = application.NewCheckerService(checkerStore, changes)
	a.pending = application.NewPendingChecksService(checkSvc, 0)
	a.submit = application.NewSubmitRule(checkSvc)
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	cacheErr := a.states.Close()
	dbErr := a.db.Close()
	a.db = nil
	if cacheErr != nil {
		return fmt.Errorf("close state cache: %w", cacheErr)
	}
	return dbErr
}
