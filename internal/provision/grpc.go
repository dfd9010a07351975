package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const createProfileMethod = "/userservice.UserService/CreateProfile"

// requestIDKey is the metadata/header field the downstream expects the
// correlation id under.
const requestIDKey = "x-request-id"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the client speak JSON-over-gRPC to the downstream, which
// does not publish a protobuf contract.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

type createProfileResponse struct {
	ProfileID string `json:"profile_id,omitempty"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GRPCTransport calls the user service over gRPC.
type GRPCTransport struct {
	conn *grpc.ClientConn
}

// NewGRPCTransport dials the user service. The connection is lazy; dial
// errors surface on the first call.
func NewGRPCTransport(target string) (*GRPCTransport, error) {
	conn, err := grpc.NewClient(
		grpcTarget(target),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, err
	}
	return &GRPCTransport{conn: conn}, nil
}

func (t *GRPCTransport) CreateProfile(ctx context.Context, req Request) (Outcome, error) {
	if req.CorrelationID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestIDKey, req.CorrelationID)
	}

	var resp createProfileResponse
	err := t.conn.Invoke(ctx, createProfileMethod, &req, &resp)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.AlreadyExists {
			return OutcomeConflict, nil
		}
		return 0, err
	}

	if resp.Error != nil {
		if resp.Error.Code == "CONFLICT" {
			return OutcomeConflict, nil
		}
		return 0, fmt.Errorf("user service error: %s: %s", resp.Error.Code, resp.Error.Message)
	}
	return OutcomeCreated, nil
}

// Close tears down the client connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

// grpcTarget strips a URL scheme off the configured address; the same
// setting feeds both transports.
func grpcTarget(target string) string {
	target = strings.TrimPrefix(target, "http://")
	target = strings.TrimPrefix(target, "https://")
	return target
}
