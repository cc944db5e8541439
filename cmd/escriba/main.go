package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cartorio-systems/escriba/internal/columnmap"
	"github.com/cartorio-systems/escriba/internal/firestore"
	"github.com/cartorio-systems/escriba/internal/importer"
	"github.com/cartorio-systems/escriba/internal/money"
	"github.com/cartorio-systems/escriba/internal/normalize"
	"github.com/cartorio-systems/escriba/internal/parsers/csvfile"
	"github.com/cartorio-systems/escriba/internal/parsers/workbook"
	"github.com/cartorio-systems/escriba/internal/registry"
	"github.com/cartorio-systems/escriba/internal/rules"
	"github.com/cartorio-systems/escriba/internal/server"
	"github.com/cartorio-systems/escriba/internal/totals"
	"github.com/cartorio-systems/escriba/internal/ui"
)

const version = "0.1.0"

func usage() {
	fmt.Fprint(os.Stderr, `escriba - Importador e API do controle de processos do cartório

Usage:
  escriba <command> [flags]

Commands:
  serve     Start the HTTP API server
  import    Import spreadsheet files into Firestore
  preview   Parse and validate files without writing anything
  recalc    Recompute period totalizers

Examples:
  # Import two monthly spreadsheets
  escriba import -project my-project AGOSTO-2025.csv processos.xlsx

  # Validate a file before importing
  escriba preview relatorio.xls

  # Recompute a single period
  escriba recalc -project my-project -mes "AGOSTO - 2025"

  # Run the API on port 8080
  escriba serve -project my-project -port 8080

`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:], false)
	case "preview":
		err = runImport(os.Args[2:], true)
	case "recalc":
		err = runRecalc(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("escriba version %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(fs *flag.FlagSet) (project, credentials *string) {
	project = fs.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "Firebase project ID")
	credentials = fs.String("credentials", "", "Service account credentials file (default: ADC)")
	return project, credentials
}

func defaultPort() int {
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		return p
	}
	return 8080
}

func requireProject(project string) error {
	if project == "" {
		return fmt.Errorf("-project flag is required (or set GOOGLE_CLOUD_PROJECT)")
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	project, credentials := commonFlags(fs)
	port := fs.Int("port", defaultPort(), "Port to listen on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, *project, *credentials)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	ui.Success(fmt.Sprintf("Listening on :%d", *port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	ui.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runImport(args []string, dryRun bool) error {
	name := "import"
	if dryRun {
		name = "preview"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	project, credentials := commonFlags(fs)
	periodLabel := fs.String("mes", "", `Reference period override, e.g. "AGOSTO - 2025" (default: derived from file names)`)
	verbose := fs.Bool("verbose", false, "Show every row warning and error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("no input files given")
	}
	if !dryRun {
		if err := requireProject(*project); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dryRun {
		ui.Header("Validating Spreadsheets")
	} else {
		ui.Header("Importing Spreadsheets")
	}

	ui.Step(1, 3, "Reading files")
	files, err := readFiles(fs.Args(), *periodLabel)
	if err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Loaded %d files", len(files)))

	ui.Step(2, 3, "Preparing pipeline")
	table, err := columnmap.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("failed to load column table: %w", err)
	}
	ruleEngine, err := rules.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("failed to load status rules: %w", err)
	}
	reg := registry.New()
	reg.Register(csvfile.New(table))
	reg.Register(workbook.New(table))
	normalizer := normalize.New(ruleEngine)

	// Reject unrecognized formats up front, before any Firestore work.
	for _, p := range fs.Args() {
		if _, perr := reg.FindParser(p); perr != nil {
			return fmt.Errorf("%w (supported formats: %s)", perr, strings.Join(reg.ListParsers(), ", "))
		}
	}

	var summary *importer.Summary
	if dryRun {
		ui.Step(3, 3, "Parsing and validating")
		imp := importer.New(reg, normalizer, nil, nil, nil)
		summary, _, err = imp.Preview(ctx, files)
	} else {
		ui.Step(3, 3, "Parsing and importing")
		client, cerr := firestore.NewClient(ctx, *project, *credentials)
		if cerr != nil {
			return fmt.Errorf("failed to connect to Firestore: %w", cerr)
		}
		defer client.Close()
		engine := totals.NewEngine(client, client)
		imp := importer.New(reg, normalizer, client, engine, nil)
		summary, err = imp.Import(ctx, files)
	}
	if summary != nil {
		printSummary(summary, *verbose)
	}
	if err != nil {
		return err
	}
	return nil
}

func runRecalc(args []string) error {
	fs := flag.NewFlagSet("recalc", flag.ExitOnError)
	project, credentials := commonFlags(fs)
	periodLabel := fs.String("mes", "", `Recompute only this period, e.g. "AGOSTO - 2025" (default: all)`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireProject(*project); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := firestore.NewClient(ctx, *project, *credentials)
	if err != nil {
		return fmt.Errorf("failed to connect to Firestore: %w", err)
	}
	defer client.Close()

	engine := totals.NewEngine(client, client)
	ui.Header("Recomputing Totalizers")

	if *periodLabel != "" {
		total, err := engine.RecomputePeriod(ctx, *periodLabel)
		if err != nil {
			return err
		}
		if _, err := engine.RecomputeGlobal(ctx); err != nil {
			return err
		}
		ui.Success(fmt.Sprintf("%s: %d records, fees %s", *periodLabel, total.RecordCount, money.FormatCents(total.TotalFees)))
		return nil
	}

	if err := engine.RecomputeAll(ctx); err != nil {
		return err
	}
	ui.Success("All periods recomputed")
	return nil
}

func readFiles(paths []string, periodLabel string) ([]importer.File, error) {
	files := make([]importer.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		files = append(files, importer.File{
			Name:        filepath.Base(p),
			Data:        data,
			PeriodLabel: periodLabel,
		})
	}
	return files, nil
}

func printSummary(s *importer.Summary, verbose bool) {
	ui.Info(fmt.Sprintf("Files: %d  Rows: %d  Imported: %d  Failed: %d", s.FileCount, s.RowCount, s.Imported, s.Failed))
	if len(s.Periods) > 0 {
		ui.Info("Periods: " + strings.Join(s.Periods, ", "))
	}

	warnings := s.Warnings
	errors := s.Errors
	if !verbose {
		if len(warnings) > 5 {
			warnings = warnings[:5]
		}
		if len(errors) > 5 {
			errors = errors[:5]
		}
	}
	for _, w := range warnings {
		ui.Warning(w)
	}
	if !verbose && len(s.Warnings) > 5 {
		ui.Warning(fmt.Sprintf("... and %d more warnings (run with -verbose to see all)", len(s.Warnings)-5))
	}
	for _, e := range errors {
		ui.Error(e)
	}
	if !verbose && len(s.Errors) > 5 {
		ui.Error(fmt.Sprintf("... and %d more errors (run with -verbose to see all)", len(s.Errors)-5))
	}

	if s.Failed == 0 && len(s.Errors) == 0 {
		ui.Success("No errors")
	}
}
