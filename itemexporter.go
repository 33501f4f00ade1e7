package chainexport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// ItemExporter is the sink that finished records are handed to. A
// RangeExporter calls Open once, Export once per record from a single
// goroutine, and Close exactly once if Open succeeded.
type ItemExporter interface {
	Open(ctx context.Context) error
	Export(ctx context.Context, record Record) error
	Close() error
}

// recordWriter writes records as newline-delimited JSON to a backing
// io.Writer. Each record is encoded into a buffer first so that it reaches
// the backing writer in a single Write call, which keeps rotating writers
// from splitting a line across files.
type recordWriter struct {
	buffer bytes.Buffer
	writer io.Writer
}

func newRecordWriter(writer io.Writer) *recordWriter {
	return &recordWriter{writer: writer}
}

// Write encodes record as one JSON line and writes it to the backing writer.
func (rw *recordWriter) Write(record Record) error {
	rw.buffer.Reset()

	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrapf(err, "encode %s %s", record.Type(), record.Key())
	}
	rw.buffer.Write(data)
	rw.buffer.WriteByte('\n')

	_, err = rw.writer.Write(rw.buffer.Bytes())
	return err
}

// StreamExporter writes records of one entity type as JSON lines to a stream
// obtained from a WriterFactory.
type StreamExporter struct {
	entity  string
	factory WriterFactory

	writer  io.WriteCloser
	records *recordWriter
}

// NewStreamExporter returns a StreamExporter whose stream for entity is
// opened by factory when the exporter is opened.
func NewStreamExporter(entity string, factory WriterFactory) *StreamExporter {
	return &StreamExporter{entity: entity, factory: factory}
}

// Open opens the backing stream.
func (e *StreamExporter) Open(ctx context.Context) error {
	writer, err := e.factory(e.entity)
	if err != nil {
		return errors.Wrapf(err, "open %s output", e.entity)
	}
	e.writer = writer
	e.records = newRecordWriter(writer)
	return nil
}

// Export writes record as one line.
func (e *StreamExporter) Export(ctx context.Context, record Record) error {
	if e.records == nil {
		return errors.Errorf("%s output is not open", e.entity)
	}
	return e.records.Write(record)
}

// Close closes the backing stream.
func (e *StreamExporter) Close() error {
	if e.writer == nil {
		return nil
	}
	err := e.writer.Close()
	e.writer = nil
	e.records = nil
	return err
}

// RoutingExporter dispatches records to a per-type exporter. Records whose
// type has no route are dropped, which is how an entity type is deselected.
// One exporter may serve several types; it is opened and closed once.
type RoutingExporter struct {
	routes    map[string]ItemExporter
	exporters []ItemExporter
	opened    []ItemExporter
}

// NewRoutingExporter builds a RoutingExporter from a record type to exporter
// map.
func NewRoutingExporter(routes map[string]ItemExporter) *RoutingExporter {
	types := make([]string, 0, len(routes))
	for typ := range routes {
		types = append(types, typ)
	}
	sort.Strings(types)

	seen := make(map[ItemExporter]bool, len(routes))
	var exporters []ItemExporter
	for _, typ := range types {
		exporter := routes[typ]
		if exporter == nil || seen[exporter] {
			continue
		}
		seen[exporter] = true
		exporters = append(exporters, exporter)
	}

	return &RoutingExporter{routes: routes, exporters: exporters}
}

// Routes reports whether records of type typ are exported.
func (e *RoutingExporter) Routes(typ string) bool {
	return e.routes[typ] != nil
}

// Open opens every routed exporter. If one fails, those already opened are
// closed again before returning.
func (e *RoutingExporter) Open(ctx context.Context) error {
	for _, exporter := range e.exporters {
		if err := exporter.Open(ctx); err != nil {
			for _, opened := range e.opened {
				if cerr := opened.Close(); cerr != nil {
					log.Errorf("Failed to close exporter: %v", cerr)
				}
			}
			e.opened = nil
			return err
		}
		e.opened = append(e.opened, exporter)
	}
	return nil
}

// Export hands record to the exporter routed for its type.
func (e *RoutingExporter) Export(ctx context.Context, record Record) error {
	exporter := e.routes[record.Type()]
	if exporter == nil {
		return nil
	}
	return exporter.Export(ctx, record)
}

// Close closes every opened exporter and returns the first error.
func (e *RoutingExporter) Close() error {
	var first error
	for _, exporter := range e.opened {
		if err := exporter.Close(); err != nil && first == nil {
			first = err
		}
	}
	e.opened = nil
	return first
}
