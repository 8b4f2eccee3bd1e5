package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageKind classifies a decoded envelope by which fields it populates.
type MessageKind int

// Envelope kinds.
const (
	KindRequest MessageKind = iota
	KindNotification
	KindResponse
	KindError
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseError reports a frame whose bytes could not be decoded as JSON at
// all. No identifier is recoverable, so the reply must carry a null id.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// InvalidEnvelopeError reports a structurally decodable envelope that
// violates the protocol rules, such as a wrong version marker or a response
// carrying both a result and an error. The member identifier, when present,
// is preserved so the reply can reference it.
type InvalidEnvelopeError struct {
	ID     MustString
	Reason string
}

func (e *InvalidEnvelopeError) Error() string {
	return fmt.Sprintf("invalid envelope: %s", e.Reason)
}

// Kind reports the envelope's kind from its populated fields. Call
// validateEnvelope first; Kind assumes a well-formed message.
func (m Message) Kind() MessageKind {
	switch {
	case m.Method != "" && m.ID == "":
		return KindNotification
	case m.Method != "":
		return KindRequest
	case m.Error != nil:
		return KindError
	default:
		return KindResponse
	}
}

// DecodeFrame parses one transport frame into its member envelopes. A frame
// whose first significant byte is '[' is a batch; anything else is a single
// envelope. The returned slice preserves wire order. Undecodable bytes
// produce a *ParseError; a decodable member that breaks envelope rules
// produces a *InvalidEnvelopeError carrying the member's id when one was
// present.
func DecodeFrame(frame []byte) ([]Message, bool, error) {
	trimmed := bytes.TrimLeft(frame, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, &ParseError{Err: fmt.Errorf("empty frame")}
	}

	if trimmed[0] == '[' {
		var batch []Message
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, true, &ParseError{Err: err}
		}
		for _, msg := range batch {
			if err := validateEnvelope(msg); err != nil {
				return nil, true, err
			}
		}
		return batch, true, nil
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false, &ParseError{Err: err}
	}
	if err := validateEnvelope(msg); err != nil {
		return nil, false, err
	}
	return []Message{msg}, false, nil
}

// EncodeMessage renders a single envelope as one transport frame.
func EncodeMessage(msg Message) ([]byte, error) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return frame, nil
}

// EncodeBatch renders a batch of envelopes as one transport frame.
func EncodeBatch(batch Batch) ([]byte, error) {
	frame, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return frame, nil
}

func validateEnvelope(msg Message) error {
	if msg.JSONRPC != JSONRPCVersion {
		return &InvalidEnvelopeError{
			ID:     msg.ID,
			Reason: fmt.Sprintf("unsupported jsonrpc version %q", msg.JSONRPC),
		}
	}
	if msg.Method == "" && msg.ID == "" {
		return &InvalidEnvelopeError{
			Reason: "message has neither method nor id",
		}
	}
	if msg.Method == "" && msg.Result != nil && msg.Error != nil {
		return &InvalidEnvelopeError{
			ID:     msg.ID,
			Reason: "response carries both result and error",
		}
	}
	if msg.Method != "" && (msg.Result != nil || msg.Error != nil) {
		return &InvalidEnvelopeError{
			ID:     msg.ID,
			Reason: "request carries response fields",
		}
	}
	return nil
}

// nullIDError is the reply shape for failures where no request identifier
// could be recovered. Message.ID cannot express an explicit null, so this
// dedicated struct carries it.
type nullIDError struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Error   *Error `json:"error"`
}

func encodeNullIDError(code int, message string) []byte {
	frame, err := json.Marshal(nullIDError{
		JSONRPC: JSONRPCVersion,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
	if err != nil {
		// Static shape, cannot fail.
		panic(err)
	}
	return frame
}
