package handler

import (
	"context"

	"google.golang.org/grpc"

	"github.com/pesio-ai/be-form-workflows/internal/codec"
	"github.com/pesio-ai/be-form-workflows/internal/service"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// FormWorkflowServiceName is the fully qualified gRPC service name.
const FormWorkflowServiceName = "forms.v1.FormWorkflowService"

// Messages travel as JSON under the "json" content-subtype. The server picks
// the codec per call, so proto services such as reflection share the port.

type CreateSubmissionRequest struct {
	TemplateRef workflow.TemplateRef `json:"template_ref"`
	Data        map[string]any       `json:"data"`
	Status      string               `json:"status,omitempty"`
}

type ProcessApprovalRequest struct {
	SubmissionID string         `json:"submission_id"`
	Action       string         `json:"action"`
	Comments     *string        `json:"comments,omitempty"`
	EditedData   map[string]any `json:"edited_data,omitempty"`
}

type GetSubmissionRequest struct {
	ID string `json:"id"`
}

type GetPendingSubmissionsRequest struct{}

type GetPendingSubmissionsResponse struct {
	Submissions []*service.PendingSubmission `json:"submissions"`
}

type GetLevelStatsRequest struct {
	TemplateRef workflow.TemplateRef `json:"template_ref"`
}

// FormWorkflowServiceServer is the server API for FormWorkflowService.
type FormWorkflowServiceServer interface {
	CreateSubmission(context.Context, *CreateSubmissionRequest) (*workflow.Submission, error)
	ProcessApproval(context.Context, *ProcessApprovalRequest) (*workflow.Submission, error)
	GetSubmission(context.Context, *GetSubmissionRequest) (*workflow.Submission, error)
	GetPendingSubmissions(context.Context, *GetPendingSubmissionsRequest) (*GetPendingSubmissionsResponse, error)
	GetLevelStats(context.Context, *GetLevelStatsRequest) (*workflow.LevelStats, error)
}

// RegisterFormWorkflowServiceServer registers srv on s.
func RegisterFormWorkflowServiceServer(s grpc.ServiceRegistrar, srv FormWorkflowServiceServer) {
	s.RegisterService(&FormWorkflowService_ServiceDesc, srv)
}

func unaryHandler[Req any](method string, call func(FormWorkflowServiceServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FormWorkflowServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + FormWorkflowServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(FormWorkflowServiceServer), ctx, req.(*Req))
			})
		},
	}
}

// FormWorkflowService_ServiceDesc describes FormWorkflowService.
var FormWorkflowService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: FormWorkflowServiceName,
	HandlerType: (*FormWorkflowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateSubmission", func(s FormWorkflowServiceServer, ctx context.Context, in *CreateSubmissionRequest) (any, error) {
			return s.CreateSubmission(ctx, in)
		}),
		unaryHandler("ProcessApproval", func(s FormWorkflowServiceServer, ctx context.Context, in *ProcessApprovalRequest) (any, error) {
			return s.ProcessApproval(ctx, in)
		}),
		unaryHandler("GetSubmission", func(s FormWorkflowServiceServer, ctx context.Context, in *GetSubmissionRequest) (any, error) {
			return s.GetSubmission(ctx, in)
		}),
		unaryHandler("GetPendingSubmissions", func(s FormWorkflowServiceServer, ctx context.Context, in *GetPendingSubmissionsRequest) (any, error) {
			return s.GetPendingSubmissions(ctx, in)
		}),
		unaryHandler("GetLevelStats", func(s FormWorkflowServiceServer, ctx context.Context, in *GetLevelStatsRequest) (any, error) {
			return s.GetLevelStats(ctx, in)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "forms/v1/form_workflow.proto",
}

// FormWorkflowServiceClient calls FormWorkflowService. Every call is sent
// with the JSON content-subtype.
type FormWorkflowServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewFormWorkflowServiceClient wraps cc.
func NewFormWorkflowServiceClient(cc grpc.ClientConnInterface) *FormWorkflowServiceClient {
	return &FormWorkflowServiceClient{cc: cc}
}

func (c *FormWorkflowServiceClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codec.Name)}, opts...)
	return c.cc.Invoke(ctx, "/"+FormWorkflowServiceName+"/"+method, in, out, opts...)
}

func (c *FormWorkflowServiceClient) CreateSubmission(ctx context.Context, in *CreateSubmissionRequest, opts ...grpc.CallOption) (*workflow.Submission, error) {
	out := new(workflow.Submission)
	if err := c.invoke(ctx, "CreateSubmission", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FormWorkflowServiceClient) ProcessApproval(ctx context.Context, in *ProcessApprovalRequest, opts ...grpc.CallOption) (*workflow.Submission, error) {
	out := new(workflow.Submission)
	if err := c.invoke(ctx, "ProcessApproval", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FormWorkflowServiceClient) GetSubmission(ctx context.Context, in *GetSubmissionRequest, opts ...grpc.CallOption) (*workflow.Submission, error) {
	out := new(workflow.Submission)
	if err := c.invoke(ctx, "GetSubmission", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FormWorkflowServiceClient) GetPendingSubmissions(ctx context.Context, in *GetPendingSubmissionsRequest, opts ...grpc.CallOption) (*GetPendingSubmissionsResponse, error) {
	out := new(GetPendingSubmissionsResponse)
	if err := c.invoke(ctx, "GetPendingSubmissions", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FormWorkflowServiceClient) GetLevelStats(ctx context.Context, in *GetLevelStatsRequest, opts ...grpc.CallOption) (*workflow.LevelStats, error) {
	out := new(workflow.LevelStats)
	if err := c.invoke(ctx, "GetLevelStats", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
