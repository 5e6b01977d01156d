package amqrpc

import (
	"context"
	"fmt"
	"strings"
)

// A minimal request/reply pair, used in the docs and
// round-trip tests. Real consumers define their own pairs the
// same way: embed BaseRequest/BaseResponse and add fields.

type EchoRequest struct {
	BaseRequest
	Text    string `json:"text"`
	Shout   bool   `json:"shout"`
	FailMsg string `json:"failMsg,omitempty"`
}

type EchoResponse struct {
	BaseResponse
	Echo string `json:"echo"`
}

const EchoQueue = "echo.operations"
const OpEcho = "Echo"

// EchoHandler echoes Text back, upper-cased when Shout is set.
// A non-empty FailMsg makes it fail, for exercising the
// failure-response path.
func EchoHandler(ctx context.Context, req *EchoRequest) (*EchoResponse, error) {
	if req.FailMsg != "" {
		return nil, fmt.Errorf("%v", req.FailMsg)
	}
	echo := req.Text
	if req.Shout {
		echo = strings.ToUpper(echo)
	}
	return &EchoResponse{Echo: echo}, nil
}

// RegisterEcho wires EchoHandler onto srv.
func RegisterEcho(srv *Server) error {
	return RegisterFunc[EchoRequest, EchoResponse](srv, EchoQueue, OpEcho, EchoHandler)
}

// Echo is the corresponding client-side call.
func Echo(ctx context.Context, c *Client, req *EchoRequest) (*EchoResponse, error) {
	return SendRequest[EchoResponse](ctx, c, EchoQueue, OpEcho, req)
}
