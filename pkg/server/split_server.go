// Package server exposes processed dataset splits over Arrow Flight.
package server

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/M2oDA-Lab/roq/pkg/cache"
	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// NoSplitTicket selects the unsplit artifact.
const NoSplitTicket = "all"

// MetricsCollector defines the metrics interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
}

// ArtifactLister reports which artifacts exist.
type ArtifactLister interface {
	Exists(ctx context.Context, names ...string) (bool, error)
}

// SplitServer serves the split artifacts of one dataset. A ticket is the
// split name: "train", "val", "test", or "all" for the unsplit artifact.
type SplitServer struct {
	flight.BaseFlightServer

	filesID   string
	artifacts ArtifactLister
	cache     cache.Cache
	allocator memory.Allocator
	logger    zerolog.Logger
	metrics   MetricsCollector
}

// NewSplitServer creates a server for filesID whose records are read through
// c.
func NewSplitServer(
	filesID string,
	artifacts ArtifactLister,
	c cache.Cache,
	allocator memory.Allocator,
	logger zerolog.Logger,
	metrics MetricsCollector,
) *SplitServer {
	return &SplitServer{
		filesID:   filesID,
		artifacts: artifacts,
		cache:     c,
		allocator: allocator,
		logger:    logger.With().Str("component", "flight_server").Logger(),
		metrics:   metrics,
	}
}

// Register registers the server with a gRPC server.
func (s *SplitServer) Register(grpcServer *grpc.Server) {
	flight.RegisterFlightServiceServer(grpcServer, s)
}

// artifactName resolves a ticket or descriptor path to an artifact.
func (s *SplitServer) artifactName(name string) (string, error) {
	if name == NoSplitTicket {
		return models.NoSplitArtifactName(s.filesID), nil
	}
	split, err := models.ParseSplit(name)
	if err != nil {
		return "", err
	}
	return models.ArtifactName(s.filesID, split), nil
}

func toStatus(err error) error {
	switch {
	case errors.GetCode(err) == errors.CodeInvalidArgument:
		return status.Error(codes.InvalidArgument, errors.GetMessage(err))
	case errors.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

func (s *SplitServer) info(name string, schema *arrow.Schema, records []arrow.Record) *flight.FlightInfo {
	var rows int64
	for _, rec := range records {
		rows += rec.NumRows()
	}

	return &flight.FlightInfo{
		Schema: flight.SerializeSchema(schema, s.allocator),
		FlightDescriptor: &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{name},
		},
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: []byte(name)},
		}},
		TotalRecords: rows,
		TotalBytes:   -1,
	}
}

func (s *SplitServer) load(ctx context.Context, name string) (*arrow.Schema, []arrow.Record, error) {
	artifact, err := s.artifactName(name)
	if err != nil {
		return nil, nil, err
	}
	return s.cache.Get(ctx, artifact)
}

func release(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}

func descriptorName(desc *flight.FlightDescriptor) (string, error) {
	if desc == nil || desc.Type != flight.DescriptorPATH || len(desc.Path) != 1 {
		return "", status.Error(codes.InvalidArgument, "descriptor must be a path with a single split name")
	}
	return desc.Path[0], nil
}

// GetFlightInfo describes the split named by a one-element path descriptor.
func (s *SplitServer) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	name, err := descriptorName(desc)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementCounter("flight_requests_total", "method", "GetFlightInfo", "split", name)

	schema, records, err := s.load(ctx, name)
	if err != nil {
		return nil, toStatus(err)
	}
	defer release(records)
	return s.info(name, schema, records), nil
}

// GetSchema returns the schema of a split.
func (s *SplitServer) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	name, err := descriptorName(desc)
	if err != nil {
		return nil, err
	}
	schema, records, err := s.load(ctx, name)
	if err != nil {
		return nil, toStatus(err)
	}
	release(records)
	return &flight.SchemaResult{Schema: flight.SerializeSchema(schema, s.allocator)}, nil
}

// ListFlights lists every artifact of the dataset that exists on disk.
func (s *SplitServer) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	ctx := stream.Context()
	names := []string{string(models.SplitTrain), string(models.SplitVal), string(models.SplitTest), NoSplitTicket}

	for _, name := range names {
		artifact, err := s.artifactName(name)
		if err != nil {
			return toStatus(err)
		}
		exists, err := s.artifacts.Exists(ctx, artifact)
		if err != nil {
			return toStatus(err)
		}
		if !exists {
			continue
		}

		schema, records, err := s.cache.Get(ctx, artifact)
		if err != nil {
			return toStatus(err)
		}
		info := s.info(name, schema, records)
		release(records)
		if err := stream.Send(info); err != nil {
			return err
		}
	}
	return nil
}

// DoGet streams every record batch of the split named by the ticket.
func (s *SplitServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx := stream.Context()
	name := string(tkt.GetTicket())
	start := time.Now()
	s.metrics.IncrementCounter("flight_requests_total", "method", "DoGet", "split", name)

	schema, records, err := s.load(ctx, name)
	if err != nil {
		s.logger.Warn().Err(err).Str("ticket", name).Msg("Rejected DoGet")
		return toStatus(err)
	}
	defer release(records)

	w := flight.NewRecordWriter(stream, ipc.WithSchema(schema), ipc.WithAllocator(s.allocator))
	defer w.Close()

	var rows int64
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return status.Errorf(codes.Internal, "write batch: %v", err)
		}
		rows += rec.NumRows()
	}

	s.metrics.RecordHistogram("flight_doget_seconds", time.Since(start).Seconds(), "split", name)
	s.logger.Debug().
		Str("ticket", name).
		Int64("rows", rows).
		Int("batches", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Streamed split")
	return nil
}
