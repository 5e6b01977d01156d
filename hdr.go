package amqrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cryrand "crypto/rand"
	mathrand2 "math/rand/v2"

	cristalbase64 "github.com/cristalhq/base64"
	gjson "github.com/goccy/go-json"
)

var lastSerialPrivate int64

func issueSerial() (cur int64) {
	cur = atomic.AddInt64(&lastSerialPrivate, 1)
	return
}

var chacha8randMut sync.Mutex
var chacha8rand *mathrand2.ChaCha8 = newCryrandSeededChaCha8()

func newCryrandSeededChaCha8() *mathrand2.ChaCha8 {
	var seed [32]byte
	_, err := cryrand.Read(seed[:])
	panicOn(err)
	return mathrand2.NewChaCha8(seed)
}

// HDR is the message envelope. It carries everything that
// crosses the broker as message properties (not body): the
// correlation id binding a reply to its request, the operation
// name that routes to a typed handler, and the name of the
// per-call reply queue.
type HDR struct {

	// Created is the HDR creation time stamp.
	Created time.Time `json:"created"`

	// Op is the operation name, the routing key into the
	// server's handler table. Travels as the broker
	// message "type" property.
	Op string `json:"op"`

	// CallID is a 21-byte pseudo random base-64 coded string,
	// identical on the request and its reply. It is the only
	// binding between the two; never assume the next reply
	// on a channel belongs to the most recent request.
	CallID string `json:"callID"`

	// ReplyTo names the per-call reply queue the server
	// should publish the response to. Empty on replies.
	ReplyTo string `json:"replyTo,omitempty"`

	// Serial is a process-local sequence number, for tracing.
	Serial int64 `json:"serial"`
}

// NewHDR creates a request envelope with a fresh CallID.
func NewHDR(op string) (h *HDR) {
	callID := NewCallID()
	h = &HDR{
		Created: time.Now(),
		Op:      op,
		CallID:  callID,
		ReplyTo: replyQueueName(callID),
		Serial:  issueSerial(),
	}
	return
}

// replyHDR derives the envelope for the response to req.
// The CallID and Op are preserved; ReplyTo is cleared since
// replies terminate the exchange.
func replyHDR(req *HDR) *HDR {
	return &HDR{
		Created: time.Now(),
		Op:      req.Op,
		CallID:  req.CallID,
		Serial:  issueSerial(),
	}
}

// NewCallID returns a fresh correlation id: 21 pseudo random
// bytes, base-64 coded. Not cryptographically random; it only
// needs to be unique among concurrently in-flight requests
// on one client.
func NewCallID() (cid string) {
	var pseudo [21]byte
	chacha8randMut.Lock()
	chacha8rand.Read(pseudo[:])
	chacha8randMut.Unlock()
	cid = cristalbase64.URLEncoding.EncodeToString(pseudo[:])
	return
}

// replyQueueName gives the per-call reply destination
// for a correlation id.
func replyQueueName(callID string) string {
	return "reply." + callID
}

func (h *HDR) String() string {
	return fmt.Sprintf("&amqrpc.HDR{Op:%q, CallID:%q, ReplyTo:%q, Serial:%v, Created:%q}",
		h.Op, h.CallID, h.ReplyTo, h.Serial, h.Created.Format(rfc3339NanoNumericTZ0pad))
}

// JSON serializes to JSON.
func (h *HDR) JSON() []byte {
	jsonData, err := gjson.Marshal(h)
	panicOn(err)
	return jsonData
}

// HDRFromBytes reverses JSON().
func HDRFromBytes(jsonData []byte) (*HDR, error) {
	var h HDR
	err := gjson.Unmarshal(jsonData, &h)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Pretty shows in pretty-printed JSON format.
func (h *HDR) Pretty() string {
	by := h.JSON()
	var pretty bytes.Buffer
	err := json.Indent(&pretty, by, "", "    ")
	panicOn(err)
	return pretty.String()
}

// hdrFromDelivery reassembles the envelope from broker
// message properties.
func hdrFromDelivery(d *Delivery) *HDR {
	return &HDR{
		Created: d.Timestamp,
		Op:      d.Type,
		CallID:  d.CorrelationID,
		ReplyTo: d.ReplyTo,
	}
}

// asPublishing maps the envelope plus body onto broker
// message properties. Requests are persistent.
func (h *HDR) asPublishing(body []byte, persistent bool) Publishing {
	return Publishing{
		CorrelationID: h.CallID,
		Type:          h.Op,
		ReplyTo:       h.ReplyTo,
		Timestamp:     h.Created,
		ContentType:   "application/json",
		Persistent:    persistent,
		Body:          body,
	}
}
