package stellar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coinbase/chainexport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHorizon serves ledger 7 with transactionsPageSize+1 transactions so
// that reading them takes two pages.
func newTestHorizon(t *testing.T) (*httptest.Server, *int32) {
	var ledgerRequests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `{"history_latest_ledger":48213,"core_latest_ledger":48214}`)

		case "/ledgers/7":
			atomic.AddInt32(&ledgerRequests, 1)
			fmt.Fprint(w, ledgerPayload)

		case "/ledgers/7/transactions":
			query := r.URL.Query()
			assert.Equal(t, "asc", query.Get("order"))
			assert.Equal(t, "true", query.Get("include_failed"))

			first, count := 0, transactionsPageSize
			if cursor := query.Get("cursor"); cursor != "" {
				n, err := strconv.Atoi(cursor)
				assert.NoError(t, err)
				first, count = n+1, 1
			}

			records := make([]string, 0, count)
			for i := first; i < first+count; i++ {
				records = append(records, testTransactionPayload("7",
					fmt.Sprintf("0x%03d", i), strconv.Itoa(i)))
			}
			fmt.Fprintf(w, `{"_embedded":{"records":[%s]}}`, strings.Join(records, ","))

		default:
			http.NotFound(w, r)
		}
	}))
	return server, &ledgerRequests
}

func newTestClient(url string) *Client {
	return NewClient(chainexport.FetcherConfig{
		BaseURL:     url,
		MaxAttempts: 1,
		Backoff:     time.Millisecond,
	})
}

func TestSourceCurrentHeight(t *testing.T) {
	server, _ := newTestHorizon(t)
	defer server.Close()

	height, err := NewSource(newTestClient(server.URL), true, true).
		CurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(48213), height)
}

func TestSourceFetchPosition(t *testing.T) {
	server, _ := newTestHorizon(t)
	defer server.Close()

	records, err := NewSource(newTestClient(server.URL), true, true).
		FetchPosition(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, records, transactionsPageSize+2)

	assert.Equal(t, "ledger", records[0].Type())
	for i, rec := range records[1:] {
		tx, ok := rec.(*Transaction)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("0x%03d", i), tx.Hash)
		assert.Equal(t, uint64(7), tx.Position())
	}
}

func TestSourceFetchPositionTransactionsOnly(t *testing.T) {
	server, ledgerRequests := newTestHorizon(t)
	defer server.Close()

	records, err := NewSource(newTestClient(server.URL), false, true).
		FetchPosition(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, records, transactionsPageSize+1)
	assert.Equal(t, int32(0), atomic.LoadInt32(ledgerRequests))
}

func TestSourceFetchPositionLedgersOnly(t *testing.T) {
	server, _ := newTestHorizon(t)
	defer server.Close()

	records, err := NewSource(newTestClient(server.URL), true, false).
		FetchPosition(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0].Key())
}

func TestSourceTransformsByKind(t *testing.T) {
	server, _ := newTestHorizon(t)
	defer server.Close()

	source := NewSource(newTestClient(server.URL), true, true)
	counts := make(map[chainexport.EntityKind]int)
	source.transform = func(kind chainexport.EntityKind, raw chainexport.RawPayload,
		tc chainexport.TransformContext) (chainexport.Record, error) {

		counts[kind]++
		return Transform(kind, raw, tc)
	}

	_, err := source.FetchPosition(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, map[chainexport.EntityKind]int{
		chainexport.KindLedger:      1,
		chainexport.KindTransaction: transactionsPageSize + 1,
	}, counts)
}
