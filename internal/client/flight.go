package client

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// FlightClient forwards packed batch records to a downstream store over
// Apache Flight.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
}

// NewFlightClient connects to the Flight endpoint at addr.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	return &FlightClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
	}, nil
}

// DoPut streams a batch record into the named dataset on the remote store.
func (c *FlightClient) DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error {
	desc := &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{dataset},
	}

	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("opening put stream: %w", err)
	}

	// The descriptor rides with the first message of the stream.
	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(desc)

	if err := writer.Write(record); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return writer.Close()
}

// Close tears down the underlying connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
