package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ExchangeServer is a compute node's side of the two server-streaming RPCs
// that move data between tasks/actors hosted on different nodes: GetData
// for batch chunks, GetStream for streaming-actor messages.
type ExchangeServer interface {
	GetData(*GetDataRequest, DataStreamServer) error
	GetStream(*GetStreamRequest, MessageStreamServer) error
}

type DataStreamServer interface {
	Send(*DataChunk) error
	grpc.ServerStream
}

type dataStreamServer struct{ grpc.ServerStream }

func (s *dataStreamServer) Send(m *DataChunk) error { return s.SendMsg(m) }

type MessageStreamServer interface {
	Send(*StreamMessageWire) error
	grpc.ServerStream
}

type messageStreamServer struct{ grpc.ServerStream }

func (s *messageStreamServer) Send(m *StreamMessageWire) error { return s.SendMsg(m) }

const exchangeServiceName = "cascade.ExchangeService"

var ExchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: exchangeServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Streams: []grpc.StreamDesc{
		serverStreamDesc("GetData", func(srv interface{}, stream grpc.ServerStream) error {
			req := new(GetDataRequest)
			if err := stream.RecvMsg(req); err != nil {
				return err
			}
			return srv.(ExchangeServer).GetData(req, &dataStreamServer{stream})
		}),
		serverStreamDesc("GetStream", func(srv interface{}, stream grpc.ServerStream) error {
			req := new(GetStreamRequest)
			if err := stream.RecvMsg(req); err != nil {
				return err
			}
			return srv.(ExchangeServer).GetStream(req, &messageStreamServer{stream})
		}),
	},
	Metadata: "cascade/rpc/exchange.proto",
}

func RegisterExchangeServer(s *grpc.Server, srv ExchangeServer) {
	s.RegisterService(&ExchangeServiceDesc, srv)
}

// DataStreamClient is the client's receive half of GetData.
type DataStreamClient interface {
	Recv() (*DataChunk, error)
	grpc.ClientStream
}

type dataStreamClient struct{ grpc.ClientStream }

func (c *dataStreamClient) Recv() (*DataChunk, error) {
	m := new(DataChunk)
	if err := c.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// MessageStreamClient is the client's receive half of GetStream.
type MessageStreamClient interface {
	Recv() (*StreamMessageWire, error)
	grpc.ClientStream
}

type messageStreamClient struct{ grpc.ClientStream }

func (c *messageStreamClient) Recv() (*StreamMessageWire, error) {
	m := new(StreamMessageWire)
	if err := c.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ExchangeClient is the Compute<->Compute exchange client stub.
type ExchangeClient struct{ cc *grpc.ClientConn }

func NewExchangeClient(cc *grpc.ClientConn) *ExchangeClient { return &ExchangeClient{cc: cc} }

func (c *ExchangeClient) GetData(ctx context.Context, req *GetDataRequest) (DataStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ExchangeServiceDesc.Streams[0], fullMethod(exchangeServiceName, "GetData"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &dataStreamClient{stream}, nil
}

func (c *ExchangeClient) GetStream(ctx context.Context, req *GetStreamRequest) (MessageStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ExchangeServiceDesc.Streams[1], fullMethod(exchangeServiceName, "GetStream"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &messageStreamClient{stream}, nil
}
