package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coinbase/chainexport"
	"github.com/coinbase/chainexport/aptos"
	"github.com/coinbase/chainexport/ordinals"
	"github.com/coinbase/chainexport/stellar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectedEntities(t *testing.T) {
	entities, err := selectedEntities("aptos", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"block", "transaction"}, entities)

	entities, err = selectedEntities("stellar", []string{"Transaction", "ledger"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger", "transaction"}, entities)

	_, err = selectedEntities("ordinals", []string{"block"})
	assert.Error(t, err)
}

func TestMakeSource(t *testing.T) {
	tests := []struct {
		chain       string
		ordinalsAPI string
		want        interface{}
	}{
		{"aptos", "", &aptos.Source{}},
		{"stellar", "", &stellar.Source{}},
		{"ordinals", "ord", &ordinals.OrdSource{}},
		{"ordinals", "hiro", &ordinals.HiroSource{}},
	}
	for _, test := range tests {
		cfg := &config{Chain: test.chain, OrdinalsAPI: test.ordinalsAPI}
		source, err := makeSource(cfg, chainEntities[test.chain])
		require.NoError(t, err, test.chain)
		assert.IsType(t, test.want, source, test.chain)
		assert.Equal(t, test.chain, source.Chain())
	}

	_, err := makeSource(&config{Chain: "ordinals", OrdinalsAPI: "esplora"}, nil)
	assert.Error(t, err)
	_, err = makeSource(&config{Chain: "solana"}, nil)
	assert.Error(t, err)
}

func TestMakeExporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	cfg := &config{Chain: "stellar", OutputDir: dir, FileSizeLimit: 1024}
	exporter, err := makeExporter(cfg, []string{"ledger"})
	require.NoError(t, err)

	routing, ok := exporter.(*chainexport.RoutingExporter)
	require.True(t, ok)
	assert.True(t, routing.Routes("ledger"))
	assert.False(t, routing.Routes("transaction"))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	exporter, err = makeExporter(&config{Chain: "aptos", PostgresURL: "postgres://localhost/chain"},
		chainEntities["aptos"])
	require.NoError(t, err)
	assert.IsType(t, &chainexport.PostgresExporter{}, exporter)

	exporter, err = makeExporter(&config{Chain: "aptos", NATSURL: "nats://localhost:4222"},
		chainEntities["aptos"])
	require.NoError(t, err)
	assert.IsType(t, &chainexport.NATSExporter{}, exporter)
}

func TestMakeExporterNeedsOneDestination(t *testing.T) {
	_, err := makeExporter(&config{Chain: "aptos"}, chainEntities["aptos"])
	assert.Error(t, err)

	_, err = makeExporter(&config{
		Chain:       "aptos",
		OutputDir:   "-",
		PostgresURL: "postgres://localhost/chain",
	}, chainEntities["aptos"])
	assert.Error(t, err)
}

func TestCheckDirEmptyOrCreate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, checkDirEmptyOrCreate(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocks-1.jsonl"), nil, 0644))
	assert.Error(t, checkDirEmptyOrCreate(dir))

	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, checkDirEmptyOrCreate(nested))
	_, err := os.Stat(nested)
	assert.NoError(t, err)
}

func TestValidateConfig(t *testing.T) {
	cfg := &config{
		Chain:       " Stellar ",
		OutputDir:   "-",
		BatchSize:   1,
		MaxWorkers:  1,
		StartHeight: 5,
		EndHeight:   10,
	}
	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, "stellar", cfg.Chain)
	assert.NotNil(t, cfg.source)
	assert.NotNil(t, cfg.exporter)

	cfg = &config{Chain: "aptos", OutputDir: "-", BatchSize: 1, MaxWorkers: 1,
		StartHeight: 10, EndHeight: 5}
	assert.Error(t, validateConfig(cfg))

	cfg = &config{Chain: "aptos", OutputDir: "-", BatchSize: 0, MaxWorkers: 1}
	assert.Error(t, validateConfig(cfg))

	cfg = &config{Chain: "bitcoin", OutputDir: "-", BatchSize: 1, MaxWorkers: 1}
	assert.Error(t, validateConfig(cfg))
}

func TestEntityOutputs(t *testing.T) {
	dir := t.TempDir()
	ledgers := filepath.Join(dir, "ledgers.jsonl")
	txs := filepath.Join(dir, "transactions.jsonl")

	cfg := &config{Chain: "stellar", LedgersOutput: ledgers, TxOutput: txs}
	exporter, err := makeExporter(cfg, chainEntities["stellar"])
	require.NoError(t, err)
	assert.False(t, cfg.toStdout())

	ctx := context.Background()
	require.NoError(t, exporter.Open(ctx))
	require.NoError(t, exporter.Export(ctx, &stellar.Ledger{Number: 7, Hash: "l7"}))
	require.NoError(t, exporter.Export(ctx, &stellar.Transaction{Hash: "t1", LedgerNumber: 7}))
	require.NoError(t, exporter.Close())

	data, err := os.ReadFile(ledgers)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"type":"ledger",`))
	assert.Equal(t, 1, strings.Count(string(data), "\n"))

	data, err = os.ReadFile(txs)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"type":"transaction",`))
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestEntityOutputsStdout(t *testing.T) {
	cfg := &config{Chain: "stellar", LedgersOutput: "-", TxOutput: "-"}
	assert.True(t, cfg.toStdout())

	exporter, err := makeExporter(cfg, chainEntities["stellar"])
	require.NoError(t, err)
	routing, ok := exporter.(*chainexport.RoutingExporter)
	require.True(t, ok)
	assert.True(t, routing.Routes("ledger"))
	assert.True(t, routing.Routes("transaction"))
}

func TestEntityOutputsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")

	// Two record types truncating the same file.
	_, err := makeExporter(&config{Chain: "aptos", BlocksOutput: path,
		TxOutput: filepath.Join(filepath.Dir(path), ".", "out.jsonl")},
		chainEntities["aptos"])
	assert.Error(t, err)

	// A selected type without an output.
	_, err = makeExporter(&config{Chain: "aptos", BlocksOutput: path},
		chainEntities["aptos"])
	assert.Error(t, err)

	// An output for a type the chain does not export.
	_, err = makeExporter(&config{Chain: "stellar", BlocksOutput: path,
		LedgersOutput: "-", TxOutput: "-"}, chainEntities["stellar"])
	assert.Error(t, err)

	// Combined with a directory output.
	_, err = makeExporter(&config{Chain: "ordinals", OutputDir: t.TempDir(),
		InsOutput: path}, chainEntities["ordinals"])
	assert.Error(t, err)
}

func TestValidateConfigEntitiesFromOutputs(t *testing.T) {
	cfg := &config{
		Chain:      "stellar",
		TxOutput:   "-",
		BatchSize:  1,
		MaxWorkers: 1,
	}
	require.NoError(t, validateConfig(cfg))

	routing, ok := cfg.exporter.(*chainexport.RoutingExporter)
	require.True(t, ok)
	assert.True(t, routing.Routes("transaction"))
	assert.False(t, routing.Routes("ledger"))

	cfg = &config{Chain: "aptos", LedgersOutput: "-", BatchSize: 1, MaxWorkers: 1}
	assert.Error(t, validateConfig(cfg))
}
