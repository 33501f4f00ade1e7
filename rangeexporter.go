package chainexport

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Source fetches the raw payloads found at a range position and transforms
// them into records. Implementations must be safe for concurrent use.
type Source interface {
	// Chain names the network, used in logs and metric labels.
	Chain() string

	// CurrentHeight returns the latest position known to the chain API.
	CurrentHeight(ctx context.Context) (uint64, error)

	// FetchPosition returns every record found at pos, in output order.
	FetchPosition(ctx context.Context, pos uint64) ([]Record, error)
}

// RangeSource is a Source whose API can serve a whole range in one call.
// FetchRange must produce the same records FetchPosition would produce for
// each position of [start, end].
type RangeSource interface {
	Source
	FetchRange(ctx context.Context, start, end uint64) ([]Record, error)
}

// State is the lifecycle stage of a RangeExporter.
type State int32

const (
	StateIdle State = iota
	StateOpen
	StateRunning
	StateClosing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config is used to construct a new RangeExporter.
type Config struct {
	Source   Source
	Exporter ItemExporter

	// StartHeight is the first position to export.
	StartHeight uint64

	// EndHeight is the last position to export, inclusive. If this field is
	// 0, it defaults to the current height of the chain minus ConfirmedDepth.
	EndHeight uint64

	// ConfirmedDepth is the number of positions below the chain tip that are
	// considered final. It is only used to resolve a zero EndHeight.
	ConfirmedDepth uint64

	// BatchSize is the number of consecutive positions a worker fetches as
	// one unit. Values below 1 are treated as 1.
	BatchSize int

	// MaxWorkers bounds the number of batches fetched concurrently. Values
	// below 1 are treated as 1.
	MaxWorkers int

	// Unordered releases batches to the exporter as soon as they complete
	// instead of in position order.
	Unordered bool

	// DisableBulk forces per-position fetching even when the Source
	// implements RangeSource.
	DisableBulk bool
}

// RangeExporter exports every record found in a closed range of positions.
// Fetching and transformation run in parallel across batches; records are
// handed to the exporter by a single goroutine in non-decreasing position
// order. The first failure ends the run, and the exporter is closed exactly
// once whenever it was opened.
type RangeExporter struct {
	source   Source
	exporter ItemExporter
	cfg      *Config

	state        int32
	numProcessed uint64
	total        uint64
}

// New constructs and returns a new RangeExporter.
func New(cfg Config) (*RangeExporter, error) {
	if cfg.Source == nil {
		return nil, errors.New("source is required")
	}
	if cfg.Exporter == nil {
		return nil, errors.New("exporter is required")
	}
	if cfg.EndHeight != 0 && cfg.StartHeight > cfg.EndHeight {
		return nil, errors.Wrapf(ErrInvalidRange, "start %d, end %d",
			cfg.StartHeight, cfg.EndHeight)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}

	exporter := RangeExporter{
		source:   cfg.Source,
		exporter: cfg.Exporter,
		cfg:      &cfg,
	}
	return &exporter, nil
}

// Run opens the exporter, exports the whole range and closes the exporter.
// It returns the first error encountered. Run may only be called once.
func (re *RangeExporter) Run(ctx context.Context) (err error) {
	if !atomic.CompareAndSwapInt32(&re.state, int32(StateIdle), int32(StateOpen)) {
		return ErrAlreadyRun
	}
	chain := re.source.Chain()

	if err := re.exporter.Open(ctx); err != nil {
		re.setState(StateDone)
		jobRuns.WithLabelValues(chain, "error").Inc()
		return &ExportError{Op: "open", Err: err}
	}

	defer func() {
		re.setState(StateClosing)
		if cerr := re.exporter.Close(); cerr != nil {
			if err == nil {
				err = &ExportError{Op: "close", Err: cerr}
			} else {
				log.Errorf("Failed to close exporter: %v", cerr)
			}
		}
		re.setState(StateDone)

		status := "ok"
		if err != nil {
			status = "error"
		}
		jobRuns.WithLabelValues(chain, status).Inc()
	}()

	start, end, err := re.resolveRange(ctx)
	if err != nil {
		return err
	}
	atomic.StoreUint64(&re.total, end-start+1)
	re.setState(StateRunning)

	if rs, ok := re.source.(RangeSource); ok && !re.cfg.DisableBulk {
		log.Infof("Exporting %s positions %d to %d in bulk", chain, start, end)
		return re.exportBulk(ctx, rs, start, end)
	}

	log.Infof("Exporting %s positions %d to %d (batch size %d, workers %d)",
		chain, start, end, re.cfg.BatchSize, re.cfg.MaxWorkers)
	return re.exportBatches(ctx, start, end)
}

// State returns the current lifecycle stage.
func (re *RangeExporter) State() State {
	return State(atomic.LoadInt32(&re.state))
}

// TotalPositions returns the number of positions to be exported. It is zero
// until the range has been resolved.
func (re *RangeExporter) TotalPositions() uint64 {
	return atomic.LoadUint64(&re.total)
}

// PositionsProcessed returns the number of positions exported so far.
func (re *RangeExporter) PositionsProcessed() uint64 {
	return atomic.LoadUint64(&re.numProcessed)
}

func (re *RangeExporter) setState(s State) {
	atomic.StoreInt32(&re.state, int32(s))
}

// resolveRange returns the closed range to export, asking the source for the
// chain tip when no end height was configured.
func (re *RangeExporter) resolveRange(ctx context.Context) (uint64, uint64, error) {
	start, end := re.cfg.StartHeight, re.cfg.EndHeight
	if end == 0 {
		height, err := re.source.CurrentHeight(ctx)
		if err != nil {
			return 0, 0, errors.Wrap(err, "resolve end height")
		}
		if height < re.cfg.ConfirmedDepth {
			return 0, 0, errors.Wrapf(ErrInvalidRange,
				"chain height %d is below confirmed depth %d", height,
				re.cfg.ConfirmedDepth)
		}
		end = height - re.cfg.ConfirmedDepth
	}
	if start > end {
		return 0, 0, errors.Wrapf(ErrInvalidRange, "start %d, end %d", start, end)
	}
	return start, end, nil
}

// exportBulk fetches the whole range with a single call and exports the
// records sorted by position.
func (re *RangeExporter) exportBulk(ctx context.Context, rs RangeSource,
	start, end uint64) error {

	chain := rs.Chain()
	begin := time.Now()
	records, err := rs.FetchRange(ctx, start, end)
	fetchDuration.WithLabelValues(chain, "bulk").Observe(time.Since(begin).Seconds())
	if err != nil {
		return &PositionError{Position: start, Err: err}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Position() < records[j].Position()
	})

	inRange := records[:0]
	for _, record := range records {
		if pos := record.Position(); pos < start || pos > end {
			log.Warnf("Dropping %s %s at position %d outside range %d-%d",
				record.Type(), record.Key(), pos, start, end)
			continue
		}
		inRange = append(inRange, record)
	}

	if err := re.exportRecords(ctx, inRange); err != nil {
		return err
	}
	re.markProcessed(chain, end-start+1)
	return nil
}

// inflightPerWorker bounds how many batches each worker may be ahead of the
// writer. Dispatched batches hold their records in memory until exported.
const inflightPerWorker = 2

// exportBatches runs the batch pipeline: one goroutine dispatches batch
// descriptors, MaxWorkers goroutines fetch them, and one goroutine writes
// the results to the exporter. At most inflightPerWorker*MaxWorkers batches
// are dispatched but not yet exported at any time.
func (re *RangeExporter) exportBatches(ctx context.Context, start, end uint64) error {
	g, gctx := errgroup.WithContext(ctx)

	batches := make(chan *batchResult)
	results := make(chan *batchResult, re.cfg.MaxWorkers)
	inflight := make(chan struct{}, inflightPerWorker*re.cfg.MaxWorkers)

	g.Go(func() error {
		return re.dispatchBatches(gctx, start, end, inflight, batches)
	})

	var workers sync.WaitGroup
	for i := 0; i < re.cfg.MaxWorkers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return re.processBatches(gctx, batches, results)
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	g.Go(func() error {
		return re.writeRecords(gctx, start, inflight, results)
	})

	return g.Wait()
}

// dispatchBatches partitions [start, end] into batches of at most BatchSize
// positions and sends them to the batches channel. A slot in inflight is
// taken for every batch sent; the writer frees it once the batch is exported.
//
// This function is intended to be run as a goroutine.
func (re *RangeExporter) dispatchBatches(ctx context.Context, start, end uint64,
	inflight chan<- struct{}, batches chan<- *batchResult) error {

	defer close(batches)

	size := uint64(re.cfg.BatchSize)
	for first := start; ; {
		last := first + size - 1
		if last > end || last < first {
			last = end
		}

		select {
		case inflight <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case batches <- &batchResult{start: first, end: last}:
		case <-ctx.Done():
			return ctx.Err()
		}

		if last == end {
			return nil
		}
		first = last + 1
	}
}

// processBatches receives batch descriptors, fetches the records for every
// position of each batch, and sends the filled batch to the results channel.
//
// This function is intended to be run as a goroutine.
func (re *RangeExporter) processBatches(ctx context.Context,
	batches <-chan *batchResult, results chan<- *batchResult) error {

	for batch := range batches {
		if err := re.processBatch(ctx, batch); err != nil {
			return err
		}

		select {
		case results <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (re *RangeExporter) processBatch(ctx context.Context, batch *batchResult) error {
	chain := re.source.Chain()
	begin := time.Now()

	for pos := batch.start; ; pos++ {
		records, err := re.source.FetchPosition(ctx, pos)
		if err != nil {
			return &PositionError{Position: pos, Err: err}
		}
		batch.records = append(batch.records, records...)

		if pos == batch.end {
			break
		}
	}

	fetchDuration.WithLabelValues(chain, "batch").Observe(time.Since(begin).Seconds())
	log.Debugf("Fetched %s positions %d-%d (%d records)", chain, batch.start,
		batch.end, len(batch.records))
	return nil
}

// writeRecords receives filled batches and exports their records. Unless the
// exporter is configured as unordered, batches are held back until every
// earlier batch has been written. This is the only goroutine that calls the
// ItemExporter.
//
// This function is intended to be run as a goroutine.
func (re *RangeExporter) writeRecords(ctx context.Context, start uint64,
	inflight <-chan struct{}, results <-chan *batchResult) error {

	chain := re.source.Chain()
	buffer := newOrderBuffer(start)

	for {
		select {
		case batch, more := <-results:
			if !more {
				if buffer.Len() > 0 {
					return errors.Errorf("%d batches never became contiguous",
						buffer.Len())
				}
				return nil
			}

			ready := []*batchResult{batch}
			if !re.cfg.Unordered {
				ready = buffer.Put(batch)
			}
			for _, b := range ready {
				if err := re.exportRecords(ctx, b.records); err != nil {
					return err
				}
				re.markProcessed(chain, b.end-b.start+1)
				<-inflight
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (re *RangeExporter) exportRecords(ctx context.Context, records []Record) error {
	chain := re.source.Chain()
	for _, record := range records {
		if err := re.exporter.Export(ctx, record); err != nil {
			return &PositionError{
				Position: record.Position(),
				Err:      &ExportError{Op: record.Type() + " " + record.Key(), Err: err},
			}
		}
		recordsExported.WithLabelValues(chain, record.Type()).Inc()
	}
	return nil
}

func (re *RangeExporter) markProcessed(chain string, n uint64) {
	atomic.AddUint64(&re.numProcessed, n)
	positionsExported.WithLabelValues(chain).Add(float64(n))
}
