package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-form-workflows/internal/codec"
)

// getUserMethod is the full method name of the identity lookup RPC.
const getUserMethod = "/platform.v1.IdentityService/GetUser"

// IdentityGRPCClient resolves approver display names against the platform
// identity gRPC service. Messages are JSON encoded.
type IdentityGRPCClient struct {
	conn *grpc.ClientConn
}

// NewIdentityGRPCClient dials the identity gRPC service and returns a client.
// Extra dial options are appended after the defaults.
func NewIdentityGRPCClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*IdentityGRPCClient, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codec.Name)),
		grpc.WithChainUnaryInterceptor(forwardMetadata, withTimeout(timeout)),
	}
	conn, err := grpc.NewClient(addr, append(dialOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &IdentityGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *IdentityGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetUser fetches one user.
func (c *IdentityGRPCClient) GetUser(ctx context.Context, userID string) (*User, error) {
	resp := &GetUserResponse{}
	if err := c.conn.Invoke(ctx, getUserMethod, &GetUserRequest{UserID: userID}, resp); err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	if resp.User == nil {
		return nil, status.Errorf(codes.NotFound, "user %s not found", userID)
	}
	return resp.User, nil
}

// DisplayName returns the user's display name. Unknown users resolve to
// their id; transport failures are returned.
func (c *IdentityGRPCClient) DisplayName(ctx context.Context, userID string) (string, error) {
	u, err := c.GetUser(ctx, userID)
	if status.Code(err) == codes.NotFound {
		return userID, nil
	}
	if err != nil {
		return "", err
	}
	if u.DisplayName == "" {
		return userID, nil
	}
	return u.DisplayName, nil
}
