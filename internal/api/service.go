package api

import (
	"context"

	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"google.golang.org/grpc"
)

const ServiceName = "bagqueue.v1.Queue"

// QueueServer is implemented by the gRPC server.
type QueueServer interface {
	CreateUploads(context.Context, *CreateUploadsRequest) (*CreateUploadsResponse, error)
	ConfirmUpload(context.Context, *ConfirmUploadRequest) (*models.TransitionOutcome, error)
	CancelUploads(context.Context, *CancelUploadsRequest) (*OutcomesResponse, error)
	GetFile(context.Context, *GetFileRequest) (*File, error)
	ListTopics(context.Context, *ListTopicsRequest) (*ListTopicsResponse, error)
	SubmitAction(context.Context, *SubmitActionRequest) (*Action, error)
	GetAction(context.Context, *ActionRequest) (*Action, error)
	StopAction(context.Context, *ActionRequest) (*Action, error)
	StorageReport(context.Context, *StorageReportRequest) (*models.StorageReport, error)
}

// FullMethod returns the gRPC path of a queue method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](name string, call func(QueueServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(QueueServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(QueueServer), ctx, req.(*Req))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueueServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateUploads", QueueServer.CreateUploads),
		unary("ConfirmUpload", QueueServer.ConfirmUpload),
		unary("CancelUploads", QueueServer.CancelUploads),
		unary("GetFile", QueueServer.GetFile),
		unary("ListTopics", QueueServer.ListTopics),
		unary("SubmitAction", QueueServer.SubmitAction),
		unary("GetAction", QueueServer.GetAction),
		unary("StopAction", QueueServer.StopAction),
		unary("StorageReport", QueueServer.StorageReport),
	},
	Metadata: "bagqueue/v1/queue",
}

func RegisterQueueServer(s grpc.ServiceRegistrar, srv QueueServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// QueueClient calls the queue service over cc using the JSON codec.
type QueueClient struct {
	cc grpc.ClientConnInterface
}

func NewQueueClient(cc grpc.ClientConnInterface) *QueueClient {
	return &QueueClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *QueueClient, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Codec{}.Name())}, opts...)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *QueueClient) CreateUploads(ctx context.Context, in *CreateUploadsRequest, opts ...grpc.CallOption) (*CreateUploadsResponse, error) {
	return invoke[CreateUploadsResponse](ctx, c, "CreateUploads", in, opts)
}

func (c *QueueClient) ConfirmUpload(ctx context.Context, in *ConfirmUploadRequest, opts ...grpc.CallOption) (*models.TransitionOutcome, error) {
	return invoke[models.TransitionOutcome](ctx, c, "ConfirmUpload", in, opts)
}

func (c *QueueClient) CancelUploads(ctx context.Context, in *CancelUploadsRequest, opts ...grpc.CallOption) (*OutcomesResponse, error) {
	return invoke[OutcomesResponse](ctx, c, "CancelUploads", in, opts)
}

func (c *QueueClient) GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (*File, error) {
	return invoke[File](ctx, c, "GetFile", in, opts)
}

func (c *QueueClient) ListTopics(ctx context.Context, in *ListTopicsRequest, opts ...grpc.CallOption) (*ListTopicsResponse, error) {
	return invoke[ListTopicsResponse](ctx, c, "ListTopics", in, opts)
}

func (c *QueueClient) SubmitAction(ctx context.Context, in *SubmitActionRequest, opts ...grpc.CallOption) (*Action, error) {
	return invoke[Action](ctx, c, "SubmitAction", in, opts)
}

func (c *QueueClient) GetAction(ctx context.Context, in *ActionRequest, opts ...grpc.CallOption) (*Action, error) {
	return invoke[Action](ctx, c, "GetAction", in, opts)
}

func (c *QueueClient) StopAction(ctx context.Context, in *ActionRequest, opts ...grpc.CallOption) (*Action, error) {
	return invoke[Action](ctx, c, "StopAction", in, opts)
}

func (c *QueueClient) StorageReport(ctx context.Context, in *StorageReportRequest, opts ...grpc.CallOption) (*models.StorageReport, error) {
	return invoke[models.StorageReport](ctx, c, "StorageReport", in, opts)
}
