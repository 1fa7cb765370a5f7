package main

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/M2oDA-Lab/roq/pkg/models"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Read splits from a running split server",
		Long: `Connect to a split server, stream the requested splits and report how many
rows each one returned.

Example:
  roq fetch --server localhost:8815
  roq fetch --server localhost:8815 --split val --token $TOKEN`,
		RunE: runFetch,
	}
	cmd.Flags().String("server", "localhost:8815", "split server address")
	cmd.Flags().String("token", "", "bearer token sent with every request")
	cmd.Flags().StringSlice("split", nil, "splits to fetch (default: every split the server lists)")
	return cmd
}

func runFetch(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	splits, _ := cmd.Flags().GetStringSlice("split")

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	client, err := flight.NewClientWithMiddleware(addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer client.Close()

	if len(splits) == 0 {
		stream, err := client.ListFlights(ctx, &flight.Criteria{})
		if err != nil {
			return fmt.Errorf("list flights: %w", err)
		}
		for {
			info, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("list flights: %w", err)
			}
			splits = append(splits, info.GetFlightDescriptor().GetPath()...)
		}
	}

	out := cmd.OutOrStdout()
	for _, split := range splits {
		stream, err := client.DoGet(ctx, &flight.Ticket{Ticket: []byte(split)})
		if err != nil {
			return fmt.Errorf("fetch %s: %w", split, err)
		}
		reader, err := flight.NewRecordReader(stream)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", split, err)
		}

		var rows, batches int64
		for reader.Next() {
			rows += reader.Record().NumRows()
			batches++
		}
		err = reader.Err()
		meta := models.ArtifactMetaFromSchema(reader.Schema())
		reader.Release()
		if err != nil {
			return fmt.Errorf("fetch %s: %w", split, err)
		}

		fmt.Fprintf(out, "%-5s rows=%d batches=%d run=%s\n", split, rows, batches, meta.RunID)
	}
	return nil
}
