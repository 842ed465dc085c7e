package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// MetaServer is Meta's side of the Compute/Compactor -> Meta RPCs. Barriers
// travel over TaskService.StreamBarriers, a server-streaming RPC that Meta
// hosts and each compute node dials; actor create/drop are unary
// TaskService calls that the compute node hosts.
type MetaServer interface {
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	PinVersion(context.Context, *PinVersionRequest) (*PinVersionResponse, error)
	UnpinVersion(context.Context, *UnpinVersionRequest) (*UnpinVersionResponse, error)
	ReportSyncedSST(context.Context, *ReportSyncedSSTRequest) (*ReportSyncedSSTResponse, error)
	ReportCompactionOutcome(context.Context, *ReportCompactionOutcomeRequest) (*ReportCompactionOutcomeResponse, error)
}

const metaServiceName = "cascade.MetaService"

// MetaServiceDesc is the hand-written grpc.ServiceDesc standing in for
// protoc-gen-go-grpc's generated descriptor.
var MetaServiceDesc = grpc.ServiceDesc{
	ServiceName: metaServiceName,
	HandlerType: (*MetaServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(metaServiceName, "RegisterWorker",
			func() interface{} { return new(RegisterWorkerRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(MetaServer).RegisterWorker(ctx, req.(*RegisterWorkerRequest))
			}),
		unaryMethod(metaServiceName, "Heartbeat",
			func() interface{} { return new(HeartbeatRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(MetaServer).Heartbeat(ctx, req.(*HeartbeatRequest))
			}),
		unaryMethod(metaServiceName, "PinVersion",
			func() interface{} { return new(PinVersionRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(MetaServer).PinVersion(ctx, req.(*PinVersionRequest))
			}),
		unaryMethod(metaServiceName, "UnpinVersion",
			func() interface{} { return new(UnpinVersionRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(MetaServer).UnpinVersion(ctx, req.(*UnpinVersionRequest))
			}),
		unaryMethod(metaServiceName, "ReportSyncedSST",
			func() interface{} { return new(ReportSyncedSSTRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(MetaServer).ReportSyncedSST(ctx, req.(*ReportSyncedSSTRequest))
			}),
		unaryMethod(metaServiceName, "ReportCompactionOutcome",
			func() interface{} { return new(ReportCompactionOutcomeRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(MetaServer).ReportCompactionOutcome(ctx, req.(*ReportCompactionOutcomeRequest))
			}),
	},
	Metadata: "cascade/rpc/meta.proto",
}

// RegisterMetaServer registers srv with s.
func RegisterMetaServer(s *grpc.Server, srv MetaServer) {
	s.RegisterService(&MetaServiceDesc, srv)
}

// MetaClient is a thin wrapper over a *grpc.ClientConn dialed with the gob
// codec (see DialOptions in server.go).
type MetaClient struct{ cc *grpc.ClientConn }

// NewMetaClient wraps an already-dialed connection.
func NewMetaClient(cc *grpc.ClientConn) *MetaClient { return &MetaClient{cc: cc} }

func (c *MetaClient) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	resp := new(RegisterWorkerResponse)
	if err := c.cc.Invoke(ctx, fullMethod(metaServiceName, "RegisterWorker"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MetaClient) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	resp := new(HeartbeatResponse)
	if err := c.cc.Invoke(ctx, fullMethod(metaServiceName, "Heartbeat"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MetaClient) PinVersion(ctx context.Context, req *PinVersionRequest) (*PinVersionResponse, error) {
	resp := new(PinVersionResponse)
	if err := c.cc.Invoke(ctx, fullMethod(metaServiceName, "PinVersion"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MetaClient) UnpinVersion(ctx context.Context, req *UnpinVersionRequest) (*UnpinVersionResponse, error) {
	resp := new(UnpinVersionResponse)
	if err := c.cc.Invoke(ctx, fullMethod(metaServiceName, "UnpinVersion"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MetaClient) ReportSyncedSST(ctx context.Context, req *ReportSyncedSSTRequest) (*ReportSyncedSSTResponse, error) {
	resp := new(ReportSyncedSSTResponse)
	if err := c.cc.Invoke(ctx, fullMethod(metaServiceName, "ReportSyncedSST"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *MetaClient) ReportCompactionOutcome(ctx context.Context, req *ReportCompactionOutcomeRequest) (*ReportCompactionOutcomeResponse, error) {
	resp := new(ReportCompactionOutcomeResponse)
	if err := c.cc.Invoke(ctx, fullMethod(metaServiceName, "ReportCompactionOutcome"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
