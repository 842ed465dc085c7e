package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// TaskServer is a compute node's side of Compute<->Compute task control
// and of the actor-lifecycle push Meta drives (CreateActors/DropActors), plus the
// server-streaming barrier feed a compute node subscribes to once at
// startup.
type TaskServer interface {
	CreateTask(context.Context, *CreateTaskRequest) (*CreateTaskResponse, error)
	AbortTask(context.Context, *AbortTaskRequest) (*AbortTaskResponse, error)
	GetTaskInfo(context.Context, *GetTaskInfoRequest) (*GetTaskInfoResponse, error)
	CreateActors(context.Context, *CreateActorsRequest) (*CreateActorsResponse, error)
	DropActors(context.Context, *DropActorsRequest) (*DropActorsResponse, error)
	StreamBarriers(*BarrierStreamRequest, BarrierStreamServer) error
}

// BarrierStreamServer is the server-streaming half of StreamBarriers: Meta
// calls Send for every barrier (and membership mutation) it injects.
type BarrierStreamServer interface {
	Send(*BarrierCommand) error
	grpc.ServerStream
}

type barrierStreamServer struct{ grpc.ServerStream }

func (s *barrierStreamServer) Send(m *BarrierCommand) error { return s.SendMsg(m) }

const taskServiceName = "cascade.TaskService"

var TaskServiceDesc = grpc.ServiceDesc{
	ServiceName: taskServiceName,
	HandlerType: (*TaskServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(taskServiceName, "CreateTask",
			func() interface{} { return new(CreateTaskRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(TaskServer).CreateTask(ctx, req.(*CreateTaskRequest))
			}),
		unaryMethod(taskServiceName, "AbortTask",
			func() interface{} { return new(AbortTaskRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(TaskServer).AbortTask(ctx, req.(*AbortTaskRequest))
			}),
		unaryMethod(taskServiceName, "GetTaskInfo",
			func() interface{} { return new(GetTaskInfoRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(TaskServer).GetTaskInfo(ctx, req.(*GetTaskInfoRequest))
			}),
		unaryMethod(taskServiceName, "CreateActors",
			func() interface{} { return new(CreateActorsRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(TaskServer).CreateActors(ctx, req.(*CreateActorsRequest))
			}),
		unaryMethod(taskServiceName, "DropActors",
			func() interface{} { return new(DropActorsRequest) },
			func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error) {
				return srv.(TaskServer).DropActors(ctx, req.(*DropActorsRequest))
			}),
	},
	Streams: []grpc.StreamDesc{
		serverStreamDesc("StreamBarriers", func(srv interface{}, stream grpc.ServerStream) error {
			req := new(BarrierStreamRequest)
			if err := stream.RecvMsg(req); err != nil {
				return err
			}
			return srv.(TaskServer).StreamBarriers(req, &barrierStreamServer{stream})
		}),
	},
	Metadata: "cascade/rpc/task.proto",
}

func RegisterTaskServer(s *grpc.Server, srv TaskServer) {
	s.RegisterService(&TaskServiceDesc, srv)
}

// TaskClient is the Compute<->Compute and Meta->Compute client stub.
type TaskClient struct{ cc *grpc.ClientConn }

func NewTaskClient(cc *grpc.ClientConn) *TaskClient { return &TaskClient{cc: cc} }

func (c *TaskClient) CreateTask(ctx context.Context, req *CreateTaskRequest) (*CreateTaskResponse, error) {
	resp := new(CreateTaskResponse)
	if err := c.cc.Invoke(ctx, fullMethod(taskServiceName, "CreateTask"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *TaskClient) AbortTask(ctx context.Context, req *AbortTaskRequest) (*AbortTaskResponse, error) {
	resp := new(AbortTaskResponse)
	if err := c.cc.Invoke(ctx, fullMethod(taskServiceName, "AbortTask"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *TaskClient) GetTaskInfo(ctx context.Context, req *GetTaskInfoRequest) (*GetTaskInfoResponse, error) {
	resp := new(GetTaskInfoResponse)
	if err := c.cc.Invoke(ctx, fullMethod(taskServiceName, "GetTaskInfo"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *TaskClient) CreateActors(ctx context.Context, req *CreateActorsRequest) (*CreateActorsResponse, error) {
	resp := new(CreateActorsResponse)
	if err := c.cc.Invoke(ctx, fullMethod(taskServiceName, "CreateActors"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *TaskClient) DropActors(ctx context.Context, req *DropActorsRequest) (*DropActorsResponse, error) {
	resp := new(DropActorsResponse)
	if err := c.cc.Invoke(ctx, fullMethod(taskServiceName, "DropActors"), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// BarrierStreamClient is the client's receive half of StreamBarriers.
type BarrierStreamClient interface {
	Recv() (*BarrierCommand, error)
	grpc.ClientStream
}

type barrierStreamClient struct{ grpc.ClientStream }

func (c *barrierStreamClient) Recv() (*BarrierCommand, error) {
	m := new(BarrierCommand)
	if err := c.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// StreamBarriers opens the barrier feed this compute node subscribes to.
func (c *TaskClient) StreamBarriers(ctx context.Context, req *BarrierStreamRequest) (BarrierStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &TaskServiceDesc.Streams[0], fullMethod(taskServiceName, "StreamBarriers"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &barrierStreamClient{stream}, nil
}
