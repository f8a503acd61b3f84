package handler

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
	"github.com/pesio-ai/be-form-workflows/internal/middleware"
	"github.com/pesio-ai/be-form-workflows/internal/service"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// metadataUserID is the metadata key the gateway uses for the caller.
const metadataUserID = "x-user-id"

// GRPCHandler implements the FormWorkflowService gRPC interface
type GRPCHandler struct {
	submissions *service.SubmissionService
	logger      zerolog.Logger
}

var _ FormWorkflowServiceServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(submissions *service.SubmissionService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		submissions: submissions,
		logger:      logger.With().Str("handler", "grpc").Logger(),
	}
}

// userID extracts the caller from incoming metadata, or returns empty string.
func userID(ctx context.Context) string {
	if id := middleware.ActorFromContext(ctx); id != "" {
		return id
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(metadataUserID); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// CreateSubmission opens a new submission
func (h *GRPCHandler) CreateSubmission(ctx context.Context, req *CreateSubmissionRequest) (*workflow.Submission, error) {
	h.logger.Info().
		Str("template_id", req.TemplateRef.ID).
		Str("template_kind", string(req.TemplateRef.Kind)).
		Msg("gRPC CreateSubmission called")

	sub, err := h.submissions.CreateSubmission(ctx, &service.CreateSubmissionRequest{
		TemplateRef:     req.TemplateRef,
		Data:            req.Data,
		RequestedStatus: workflow.Status(req.Status),
		SubmittedBy:     userID(ctx),
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return sub, nil
}

// ProcessApproval applies an approve or reject action
func (h *GRPCHandler) ProcessApproval(ctx context.Context, req *ProcessApprovalRequest) (*workflow.Submission, error) {
	h.logger.Info().
		Str("submission_id", req.SubmissionID).
		Str("action", req.Action).
		Msg("gRPC ProcessApproval called")

	action, err := workflow.ParseAction(strings.ToUpper(req.Action))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	sub, err := h.submissions.ProcessApproval(ctx, &service.ProcessApprovalRequest{
		SubmissionID: req.SubmissionID,
		ActorID:      userID(ctx),
		Action:       action,
		Comments:     req.Comments,
		EditedData:   req.EditedData,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return sub, nil
}

// GetSubmission retrieves a submission by ID
func (h *GRPCHandler) GetSubmission(ctx context.Context, req *GetSubmissionRequest) (*workflow.Submission, error) {
	sub, err := h.submissions.GetSubmission(ctx, req.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return sub, nil
}

// GetPendingSubmissions lists the caller's approval inbox
func (h *GRPCHandler) GetPendingSubmissions(ctx context.Context, _ *GetPendingSubmissionsRequest) (*GetPendingSubmissionsResponse, error) {
	items, err := h.submissions.GetSubmissionsPendingFor(ctx, userID(ctx))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return &GetPendingSubmissionsResponse{Submissions: items}, nil
}

// GetLevelStats aggregates approval progress for a template
func (h *GRPCHandler) GetLevelStats(ctx context.Context, req *GetLevelStatsRequest) (*workflow.LevelStats, error) {
	stats, err := h.submissions.GetLevelStats(ctx, req.TemplateRef)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return stats, nil
}

// UnaryLogger logs every unary call with its final code.
func UnaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		evt := logger.Debug()
		if code == codes.Internal || code == codes.Unavailable {
			evt = logger.Error().Err(err)
		}
		evt.
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

// mapErrorToGRPC maps application error codes to gRPC status codes.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	msg := err.Error()
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeDependencyFailure:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
