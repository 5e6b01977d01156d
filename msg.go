package amqrpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/glycerine/loquet"
)

// Request is the contract a request body must satisfy so the
// client engine can stamp the envelope fields (correlation id,
// timestamp) into the serialized payload. Embed BaseRequest.
type Request interface {
	StampEnvelope(callID string, created time.Time)
	GetCallID() string
}

// Response is the contract a response body must satisfy.
// Embed BaseResponse. Response types must be default
// constructible: the engine synthesizes failure and timeout
// responses without knowledge of the domain fields.
type Response interface {
	InitFailure(callID string, errMsg string)
	InitSuccess(callID string)
	GetCallID() string
	OK() bool
	ErrMsg() string
}

// BaseRequest carries the envelope fields every request
// body repeats in-band, camelCase on the wire.
type BaseRequest struct {
	CallID  string    `json:"correlationId"`
	Created time.Time `json:"timestamp"`
}

func (r *BaseRequest) StampEnvelope(callID string, created time.Time) {
	r.CallID = callID
	r.Created = created
}

func (r *BaseRequest) GetCallID() string { return r.CallID }

// BaseResponse carries the envelope and outcome fields every
// response body repeats in-band.
type BaseResponse struct {
	CallID       string    `json:"correlationId"`
	Created      time.Time `json:"timestamp"`
	IsSuccess    bool      `json:"isSuccess"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

func (r *BaseResponse) InitFailure(callID string, errMsg string) {
	r.CallID = callID
	r.Created = time.Now()
	r.IsSuccess = false
	r.ErrorMessage = errMsg
}

func (r *BaseResponse) InitSuccess(callID string) {
	r.CallID = callID
	r.Created = time.Now()
	r.IsSuccess = true
	r.ErrorMessage = ""
}

func (r *BaseResponse) GetCallID() string { return r.CallID }
func (r *BaseResponse) OK() bool          { return r.IsSuccess }
func (r *BaseResponse) ErrMsg() string    { return r.ErrorMessage }

// Message is the in-process unit of work for one in-flight
// call: the envelope, the serialized body, and the
// single-assignment future the caller parks on.
type Message struct {

	// HDR contains the envelope.
	HDR HDR

	// JobSerz is the serialized body. On a fulfilled waiter
	// it holds the reply body as received.
	JobSerz []byte

	// LocalErr is never serialized; it communicates
	// client-side outcomes (empty reply, sweep timeout,
	// shutdown) to the caller parked on DoneCh.
	LocalErr error

	// DoneCh.WhenClosed() fires exactly once, when the reply
	// arrived, the waiter was swept, or the call was torn
	// down. NewMessage allocates it correctly.
	DoneCh *loquet.Chan[Message]

	// registeredAt is when the waiter entered the pending
	// map; the sweeper compares it against the grace window.
	registeredAt time.Time
}

// NewMessage allocates a new Message with DoneCh properly created.
func NewMessage() *Message {
	m := &Message{}
	m.DoneCh = loquet.NewChan(m)
	return m
}

func (m *Message) String() string {
	return fmt.Sprintf("&Message{HDR:%v, LocalErr:'%v', len %v JobSerz}",
		m.HDR.String(), m.LocalErr, len(m.JobSerz))
}

var ErrShutdown = fmt.Errorf("shutting down")
var ErrRequestTimeout = errors.New(timeoutErrMsg)
var ErrEmptyResponse = fmt.Errorf("empty response")
var ErrCleanupTimeout = fmt.Errorf("cleanup timeout")
var ErrNoConnection = fmt.Errorf("no valid broker connection available")

// Fixed messages the engine writes into synthesized
// failure responses. Tested against verbatim; do not
// reword casually.
const (
	timeoutErrMsg = "Request timeout"
)

// rawExcerptMax bounds how much of a malformed peer reply we
// echo back inside a synthesized failure response, so a
// misbehaving peer cannot flood the caller.
const rawExcerptMax = 256

func truncatedExcerpt(raw []byte) string {
	s := string(raw)
	if len(s) > rawExcerptMax {
		s = s[:rawExcerptMax] + "..."
	}
	return s
}
