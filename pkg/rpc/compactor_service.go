package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// CompactorServer is Meta's side of the Compactor<->Meta RPCs: a compactor
// long-polls for its next task (answered with what pkg/compaction's
// Dispatcher assigned to it), reports an outcome, and polls for vacuum
// batches.
type CompactorServer interface {
	GetCompactionTask(context.Context, *GetCompactionTaskRequest) (*GetCompactionTaskResponse, error)
	ReportCompactionTask(context.Context, *ReportCompactionTaskRequest) (*ReportCompactionTaskResponse, error)
	VacuumBatch(context.Context, *VacuumBatchRequest) (*VacuumBatchResponse, error)
}

const compactorServiceName = "cascade.CompactorService"

var CompactorServiceDesc = grpc.ServiceDesc{
	ServiceName: compactorServiceName,
	HandlerType: (*CompactorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(compactorServiceName, "GetCompactionTask",
			func() interface{} { return new(GetCompactionTaskRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(CompactorServer).GetCompactionTask(ctx, req.(*GetCompactionTaskRequest))
			}),
		unaryMethod(compactorServiceName, "ReportCompactionTask",
			func() interface{} { return new(ReportCompactionTaskRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(CompactorServer).ReportCompactionTask(ctx, req.(*ReportCompactionTaskRequest))
			}),
		unaryMethod(compactorServiceName, "VacuumBatch",
			func() interface{} { return new(VacuumBatchRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(CompactorServer).VacuumBatch(ctx, req.(*VacuumBatchRequest))
			}),
	},
	Metadata: "cascade/rpc/compactor.proto",
}

func RegisterCompactorServer(s *grpc.Server, srv CompactorServer) {
	s.RegisterService(&CompactorServiceDesc, srv)
}

// CompactorClient is the Compactor-side stub dialed against Meta.
type CompactorClient struct{ cc *grpc.ClientConn }

func NewCompactorClient(cc *grpc.ClientConn) *CompactorClient { return &CompactorClient{cc: cc} }

func (c *CompactorClient) GetCompactionTask(ctx context.Context, req *GetCompactionTaskRequest) (*GetCompactionTaskResponse, error) {
	resp := new(GetCompactionTaskResponse)
	if err := c.cc.Invoke(ctx, fullMethod(compactorServiceName, "GetCompactionTask"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *CompactorClient) ReportCompactionTask(ctx context.Context, req *ReportCompactionTaskRequest) (*ReportCompactionTaskResponse, error) {
	resp := new(ReportCompactionTaskResponse)
	if err := c.cc.Invoke(ctx, fullMethod(compactorServiceName, "ReportCompactionTask"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *CompactorClient) VacuumBatch(ctx context.Context, req *VacuumBatchRequest) (*VacuumBatchResponse, error) {
	resp := new(VacuumBatchResponse)
	if err := c.cc.Invoke(ctx, fullMethod(compactorServiceName, "VacuumBatch"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
