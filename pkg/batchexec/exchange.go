package batchexec

import (
	"context"

	"github.com/cascadedb/cascade/pkg/common"
)

// ExchangeStream is the server-streaming RPC shape ExchangeService.GetData
// presents: a sequence of row chunks from one producer task.
type ExchangeStream interface {
	Recv() (rows []common.Row, ok bool, err error)
}

// ExchangeClient opens a streaming read against one producer task; pkg/rpc
// supplies the real gRPC-backed implementation.
type ExchangeClient interface {
	GetData(ctx context.Context, source ExchangeSource) (ExchangeStream, error)
}

// QueryResultFetcher pulls the root task's output over ExchangeService.GetData
// once the root stage has been scheduled.
type QueryResultFetcher struct {
	queryID QueryID
	root    *Stage
	client  ExchangeClient
}

// NewQueryResultFetcher constructs a fetcher for root's output. The client
// is wired in by SetClient once the caller's RPC layer is available; tests
// construct a fetcher and call Fetch directly against a stub client.
func NewQueryResultFetcher(queryID QueryID, root *Stage) *QueryResultFetcher {
	return &QueryResultFetcher{queryID: queryID, root: root}
}

// SetClient wires the ExchangeClient this fetcher pulls data through.
func (f *QueryResultFetcher) SetClient(c ExchangeClient) { f.client = c }

// Fetch pulls every row chunk from every task of the root stage, in task
// order. Rows from different tasks are concatenated without interleaving
// guarantees beyond that ordering, matching a client cursor's expectations.
func (f *QueryResultFetcher) Fetch(ctx context.Context, tasks []Task) ([]common.Row, error) {
	var out []common.Row
	for _, t := range tasks {
		stream, err := f.client.GetData(ctx, ExchangeSource{TaskOutputID: t.ID, Host: t.WorkerID})
		if err != nil {
			return nil, err
		}
		for {
			rows, ok, err := stream.Recv()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			out = append(out, rows...)
		}
	}
	return out, nil
}
