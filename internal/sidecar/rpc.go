package sidecar

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// LogRequest is the wire shape of the SendLog RPC's request message.
type LogRequest struct {
	JSONData  string   `json:"json_data"`
	Pipelines []string `json:"pipelines"`
	APIKey    string   `json:"api_key"`
}

// LogReply is the wire shape of the SendLog RPC's reply message.
type LogReply struct {
	Success bool `json:"success"`
}

// jsonCodecName is registered with grpc's encoding package so both this
// client and any in-process fake server in tests speak the same codec
// without a protoc-generated one.
const jsonCodecName = "datanadhi-json"

// jsonCodec marshals gRPC messages as plain JSON. The sidecar binary is
// downloaded, not vendored alongside generated stubs, so the only contract
// this module and the binary share is this wire shape.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Client is a thin wrapper over a grpc.ClientConn dialed to the sidecar's
// UNIX-domain socket, exposing the single SendLog unary call.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a connection to the sidecar's RPC socket. The connection is
// lazy: grpc.NewClient does not block on a live server, matching the
// "dial then invoke, let invoke fail" shape of a one-shot send.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("dial sidecar socket: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

const sendLogMethod = "/LogAgent/SendLog"

// SendLog performs the single unary RPC the sidecar contract defines.
func (c *Client) SendLog(ctx context.Context, req LogRequest) (LogReply, error) {
	var reply LogReply
	err := c.conn.Invoke(ctx, sendLogMethod, &req, &reply, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		return LogReply{}, err
	}
	return reply, nil
}

// SendViaSidecar dials the sidecar socket, performs one SendLog call, and
// collapses any error into a false result — the caller treats "false" and
// "error" identically, per the one-shot-and-move-on contract.
func SendViaSidecar(ctx context.Context, socketPath string, pipelines []string, jsonData string, apiKey string) bool {
	client, err := Dial(socketPath)
	if err != nil {
		return false
	}
	defer client.Close()

	reply, err := client.SendLog(ctx, LogRequest{
		JSONData:  jsonData,
		Pipelines: pipelines,
		APIKey:    apiKey,
	})
	if err != nil {
		return false
	}
	return reply.Success
}
