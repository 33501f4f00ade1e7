package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinbase/chainexport"
	"github.com/coinbase/chainexport/aptos"
	"github.com/coinbase/chainexport/ordinals"
	"github.com/coinbase/chainexport/stellar"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "chainexport.conf"
	defaultProgress       = 10
	defaultBatchSize      = 10
	defaultMaxWorkers     = 5
	defaultConfirmedDepth = 6
	defaultFileSizeLimit  = 1024 * 1024
	defaultHTTPTimeout    = 30 * time.Second
	defaultHTTPRetries    = 5
	defaultNATSSubject    = "chainexport"
	defaultDebugLevel     = "info"
	defaultOrdinalsAPI    = "ord"
)

var (
	appHomeDir        = btcutil.AppDataDir("chainexport", false)
	defaultConfigFile = filepath.Join(appHomeDir, defaultConfigFilename)
)

// chainEntities lists the record types each chain produces, in output order.
var chainEntities = map[string][]string{
	aptos.ChainName:    {"block", "transaction"},
	stellar.ChainName:  {"ledger", "transaction"},
	ordinals.ChainName: {"inscription"},
}

// config defines the configuration options for chainexport.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile    string        `short:"C" long:"configfile" description:"Path to configuration file"`
	Chain         string        `short:"c" long:"chain" description:"Chain to export {aptos, stellar, ordinals}"`
	APIURL        string        `short:"a" long:"api-url" description:"Base URL of the chain API (default depends on chain)"`
	APIKey        string        `long:"api-key" description:"Value of the x-api-key header sent with every request"`
	OrdinalsAPI   string        `long:"ordinals-api" description:"API serving ordinals inscriptions {ord, hiro}"`
	StartHeight   uint64        `short:"s" long:"start-height" description:"Optional beginning position of export range (default=0)"`
	EndHeight     uint64        `short:"e" long:"end-height" description:"Ending position of export range (default=tip-confirmations)"`
	Confirmations uint64        `long:"confirmations" description:"Number of positions below the tip considered final"`
	BatchSize     int           `short:"b" long:"batch-size" description:"Number of consecutive positions fetched as one unit"`
	MaxWorkers    int           `short:"w" long:"max-workers" description:"Maximum number of batches fetched concurrently"`
	Unordered     bool          `long:"unordered" description:"Export batches as they complete instead of in position order"`
	NoBulk        bool          `long:"no-bulk" description:"Fetch position by position even when the API supports range queries"`
	Entities      []string      `long:"entity" description:"Record type to export; may be repeated (default=all types of the chain)"`
	OutputDir     string        `short:"o" long:"output" description:"Directory to write output files to, or - for stdout"`
	BlocksOutput  string        `long:"blocks-output" description:"File to write block records to, or - for stdout"`
	LedgersOutput string        `long:"ledgers-output" description:"File to write ledger records to, or - for stdout"`
	TxOutput      string        `long:"transactions-output" description:"File to write transaction records to, or - for stdout"`
	InsOutput     string        `long:"inscriptions-output" description:"File to write inscription records to, or - for stdout"`
	FileSizeLimit int           `long:"file-size-limit" description:"Size in bytes at which output files and S3 objects are rotated"`
	S3Bucket      string        `long:"s3-bucket" description:"S3 bucket to write output files to"`
	S3Prefix      string        `long:"s3-prefix" description:"Key prefix of S3 objects to upload"`
	PostgresURL   string        `long:"postgres-url" description:"Postgres connection string to upsert records into"`
	NATSURL       string        `long:"nats-url" description:"NATS server to publish records to"`
	NATSSubject   string        `long:"nats-subject" description:"Subject prefix of published records"`
	HTTPTimeout   time.Duration `long:"http-timeout" description:"Timeout of a single chain API request"`
	HTTPRetries   int           `long:"http-retries" description:"Attempts per chain API request"`
	Progress      int           `short:"p" long:"progress" description:"Show a progress message each time this number of seconds have passed -- Use 0 to disable progress announcements"`
	MetricsListen string        `long:"metrics-listen" description:"Address to serve Prometheus metrics on, e.g. :9100"`
	DebugLevel    string        `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical, off}"`

	source   chainexport.Source
	exporter chainexport.ItemExporter
}

// toStdout reports whether records are written to standard output, in which
// case logs must go elsewhere.
func (cfg *config) toStdout() bool {
	if cfg.OutputDir == "-" {
		return true
	}
	for _, path := range cfg.entityOutputs() {
		if path == "-" {
			return true
		}
	}
	return false
}

// entityOutputs returns the per-entity output files keyed by record type.
func (cfg *config) entityOutputs() map[string]string {
	outputs := make(map[string]string)
	for entity, path := range map[string]string{
		"block":       cfg.BlocksOutput,
		"ledger":      cfg.LedgersOutput,
		"transaction": cfg.TxOutput,
		"inscription": cfg.InsOutput,
	} {
		if path != "" {
			outputs[entity] = path
		}
	}
	return outputs
}

// selectedEntities returns the record types to export, validated against
// the chain.
func selectedEntities(chain string, requested []string) ([]string, error) {
	known := chainEntities[chain]
	if len(requested) == 0 {
		return known, nil
	}

	seen := make(map[string]bool, len(requested))
	for _, entity := range requested {
		entity = strings.ToLower(strings.TrimSpace(entity))
		if !contains(known, entity) {
			return nil, fmt.Errorf("Unknown %s entity %q -- supported entities %v",
				chain, entity, known)
		}
		seen[entity] = true
	}

	// Keep the chain's order regardless of flag order.
	var entities []string
	for _, entity := range known {
		if seen[entity] {
			entities = append(entities, entity)
		}
	}
	return entities, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// fetcherConfig returns the HTTP settings shared by every chain client.
func fetcherConfig(cfg *config) chainexport.FetcherConfig {
	fc := chainexport.FetcherConfig{
		BaseURL:     cfg.APIURL,
		Timeout:     cfg.HTTPTimeout,
		MaxAttempts: cfg.HTTPRetries,
	}
	if cfg.APIKey != "" {
		fc.Header = http.Header{"X-Api-Key": {cfg.APIKey}}
	}
	return fc
}

// makeSource returns the Source for the configured chain and entity types.
func makeSource(cfg *config, entities []string) (chainexport.Source, error) {
	fc := fetcherConfig(cfg)
	switch cfg.Chain {
	case aptos.ChainName:
		client := aptos.NewClient(fc)
		return aptos.NewSource(client, contains(entities, "block"),
			contains(entities, "transaction")), nil

	case stellar.ChainName:
		client := stellar.NewClient(fc)
		return stellar.NewSource(client, contains(entities, "ledger"),
			contains(entities, "transaction")), nil

	case ordinals.ChainName:
		switch cfg.OrdinalsAPI {
		case "ord":
			return ordinals.NewOrdSource(ordinals.NewOrdClient(fc)), nil
		case "hiro":
			return ordinals.NewHiroSource(ordinals.NewHiroClient(fc)), nil
		}
		return nil, fmt.Errorf("Unknown ordinals API %q -- choose ord or hiro",
			cfg.OrdinalsAPI)
	}

	return nil, fmt.Errorf("Unknown chain %q -- supported chains %v",
		cfg.Chain, supportedChains())
}

func supportedChains() []string {
	chains := make([]string, 0, len(chainEntities))
	for chain := range chainEntities {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// makeWriterFactory returns an appropriate WriterFactory determined by the
// command line arguments, or nil if the output is not stream based.
func makeWriterFactory(cfg *config) (chainexport.WriterFactory, error) {
	switch {
	case cfg.toStdout():
		return chainexport.StdoutWriter(), nil
	case cfg.OutputDir != "":
		if err := checkDirEmptyOrCreate(cfg.OutputDir); err != nil {
			return nil, err
		}
		return chainexport.RotatingFileWriter(cfg.OutputDir, cfg.FileSizeLimit), nil
	case cfg.S3Bucket != "":
		sess := session.Must(session.NewSession())
		uploader := s3manager.NewUploader(sess)
		options := s3manager.UploadInput{
			Bucket: &cfg.S3Bucket,
			Key:    &cfg.S3Prefix,
		}
		return chainexport.RotatingS3Writer(uploader, &options, cfg.FileSizeLimit), nil
	}
	return nil, nil
}

// makeExporter returns the sink that receives every selected record type.
// Exactly one output destination must be configured.
func makeExporter(cfg *config, entities []string) (chainexport.ItemExporter, error) {
	entityOutputs := cfg.entityOutputs()

	var outputs int
	for _, dest := range []string{cfg.OutputDir, cfg.S3Bucket, cfg.PostgresURL, cfg.NATSURL} {
		if dest != "" {
			outputs++
		}
	}
	if len(entityOutputs) > 0 {
		outputs++
	}
	switch {
	case outputs == 0:
		return nil, fmt.Errorf("No output destination specified")
	case outputs > 1:
		return nil, fmt.Errorf("The output, s3-bucket, postgres-url, nats-url " +
			"and per-entity output options can't be used together -- choose one")
	}

	if len(entityOutputs) > 0 {
		return makeEntityExporter(entityOutputs, entities)
	}

	// Record sinks key rows and subjects by type, so they take every
	// selected type as is.
	switch {
	case cfg.PostgresURL != "":
		return chainexport.NewPostgresExporter(cfg.PostgresURL, cfg.Chain), nil
	case cfg.NATSURL != "":
		return chainexport.NewNATSExporter(cfg.NATSURL, cfg.NATSSubject, cfg.Chain), nil
	}

	factory, err := makeWriterFactory(cfg)
	if err != nil {
		return nil, err
	}
	routes := make(map[string]chainexport.ItemExporter, len(entities))
	for _, entity := range entities {
		routes[entity] = chainexport.NewStreamExporter(entity, factory)
	}
	return chainexport.NewRoutingExporter(routes), nil
}

// makeEntityExporter routes each selected record type to its own file, or to
// stdout for "-". Every selected type needs an output and no two types may
// share a file.
func makeEntityExporter(outputs map[string]string,
	entities []string) (chainexport.ItemExporter, error) {

	for entity := range outputs {
		if !contains(entities, entity) {
			return nil, fmt.Errorf("An output is set for %s records, which are "+
				"not exported", entity)
		}
	}

	files := make(map[string]string, len(outputs))
	routes := make(map[string]chainexport.ItemExporter, len(entities))
	for _, entity := range entities {
		path, ok := outputs[entity]
		if !ok {
			return nil, fmt.Errorf("No output specified for %s records", entity)
		}
		if path == "-" {
			routes[entity] = chainexport.NewStreamExporter(entity,
				chainexport.StdoutWriter())
			continue
		}

		clean := filepath.Clean(path)
		if other, ok := files[clean]; ok {
			return nil, fmt.Errorf("The %s and %s records can't share the "+
				"output file %s", other, entity, path)
		}
		files[clean] = entity
		routes[entity] = chainexport.NewStreamExporter(entity,
			chainexport.SingleFileWriter(path))
	}
	return chainexport.NewRoutingExporter(routes), nil
}

// checkDirEmptyOrCreate ensures that the given file path either does not exist
// yet or is the path to an empty directory. If the directory does not exist,
// this function will create it.
func checkDirEmptyOrCreate(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		// Create empty directory if it does not exist and return.
		if os.IsNotExist(err) {
			err = os.MkdirAll(dirPath, 0755)
			if err != nil {
				return fmt.Errorf("Failed to create output directory: %v", err)
			}
			return nil
		}

		return err
	}
	defer dir.Close()

	_, err = dir.Readdirnames(1)
	if err != io.EOF {
		return fmt.Errorf("Output directory %s must be empty", dirPath)
	}
	return nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:    defaultConfigFile,
		OrdinalsAPI:   defaultOrdinalsAPI,
		Confirmations: defaultConfirmedDepth,
		BatchSize:     defaultBatchSize,
		MaxWorkers:    defaultMaxWorkers,
		FileSizeLimit: defaultFileSizeLimit,
		NATSSubject:   defaultNATSSubject,
		HTTPTimeout:   defaultHTTPTimeout,
		HTTPRetries:   defaultHTTPRetries,
		Progress:      defaultProgress,
		DebugLevel:    defaultDebugLevel,
	}

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return nil, nil, err
		}
	}

	// Load additional config from file. A missing default config file is
	// not an error.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok || preCfg.ConfigFile != defaultConfigFile {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n", err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	if err := validateConfig(&cfg); err != nil {
		err = fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

// validateConfig checks option combinations and builds the source and sink.
func validateConfig(cfg *config) error {
	cfg.Chain = strings.ToLower(strings.TrimSpace(cfg.Chain))
	cfg.OrdinalsAPI = strings.ToLower(strings.TrimSpace(cfg.OrdinalsAPI))
	if _, ok := chainEntities[cfg.Chain]; !ok {
		return fmt.Errorf("The chain option must be one of %v", supportedChains())
	}

	if cfg.EndHeight != 0 && cfg.StartHeight > cfg.EndHeight {
		return fmt.Errorf("The start-height %d is past the end-height %d",
			cfg.StartHeight, cfg.EndHeight)
	}
	if cfg.BatchSize < 1 || cfg.MaxWorkers < 1 {
		return fmt.Errorf("The batch-size and max-workers options must be positive")
	}
	if cfg.FileSizeLimit < 0 {
		return fmt.Errorf("The file-size-limit option must not be negative")
	}
	if cfg.Progress < 0 {
		return fmt.Errorf("The progress option must not be negative")
	}

	// Per-entity outputs select their record types unless entities are
	// named explicitly.
	requested := cfg.Entities
	if len(requested) == 0 {
		for entity := range cfg.entityOutputs() {
			requested = append(requested, entity)
		}
	}
	entities, err := selectedEntities(cfg.Chain, requested)
	if err != nil {
		return err
	}

	cfg.source, err = makeSource(cfg, entities)
	if err != nil {
		return err
	}
	cfg.exporter, err = makeExporter(cfg, entities)
	return err
}
