// Package socket provides a WebSocket relay for agents that cannot reach a
// broker directly. A Hub accepts connections from many processes; each
// process binds the agent ids it hosts and publishes envelopes addressed to
// any bound id. Transport is the client side and implements core.Transport.
//
// Frames are JSON text messages. Envelopes travel inside them as the bytes
// produced by the agent's codec, so the hub never decodes an envelope and
// both ends must agree on the codec, as with the Redis binding.
//
//	client -> hub   {"op":"bind","seq":1,"agent_id":"..."}
//	                {"op":"unbind","seq":2,"agent_id":"..."}
//	                {"op":"publish","seq":3,"to":"...","envelope":"<base64>"}
//	hub -> client   {"op":"ack","seq":1}
//	                {"op":"error","seq":3,"code":"no_recipient","error":"..."}
//	                {"op":"deliver","agent_id":"...","envelope":"<base64>"}
package socket

// Frame operations.
const (
	OpBind    = "bind"
	OpUnbind  = "unbind"
	OpPublish = "publish"
	OpAck     = "ack"
	OpError   = "error"
	OpDeliver = "deliver"
)

// Error codes carried by error frames.
const (
	CodeBadFrame    = "bad_frame"
	CodeNoRecipient = "no_recipient"
	CodeQueueFull   = "queue_full"
	CodeBound       = "already_bound"
	CodeUnknownOp   = "unknown_op"
)

// Frame is the unit exchanged between Hub and Transport.
type Frame struct {
	Op       string `json:"op"`
	Seq      uint64 `json:"seq,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	To       string `json:"to,omitempty"`
	Envelope []byte `json:"envelope,omitempty"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

func ackFrame(seq uint64) Frame {
	return Frame{Op: OpAck, Seq: seq}
}

func errorFrame(seq uint64, code, msg string) Frame {
	return Frame{Op: OpError, Seq: seq, Code: code, Error: msg}
}
