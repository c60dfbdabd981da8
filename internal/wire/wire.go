// Package wire provides protobuf message framing for the ingest gateway.
//
// Messages are length-delimited using protobuf's standard varint encoding.
// Every message is a google.protobuf.Struct envelope, so request bodies
// stay schema-free JSON objects on both ends:
//
//	request:  {id, op, request}
//	response: {id, ok, error: {code, message}, result}
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/errors"
)

// Reader reads length-delimited envelopes from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	maxSize int64
	mu      sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: config.DefaultMaxMessageSize}
}

// SetMaxSize overrides the message size limit.
func (r *Reader) SetMaxSize(n int64) {
	if n > 0 {
		r.maxSize = n
	}
}

// Read reads and unmarshals the next envelope. io.EOF is returned as is
// when the stream ends between messages.
func (r *Reader) Read() (*structpb.Struct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{MaxSize: r.maxSize}
	if err := opts.UnmarshalFrom(r.r, env); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("read envelope: %w", err)
	}
	return env, nil
}

// Writer writes length-delimited envelopes to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals and writes an envelope with length prefix.
func (w *Writer) Write(env *structpb.Struct) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Conn combines Reader and Writer for bidirectional communication.
type Conn struct {
	*Reader
	*Writer
}

// NewConn creates a Conn from an io.ReadWriter (e.g., net.Conn).
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		Reader: NewReader(rw),
		Writer: NewWriter(rw),
	}
}

// =============================================================================
// Envelopes
// =============================================================================

// Request is a decoded request envelope.
type Request struct {
	ID   uint64
	Op   string
	Body *structpb.Struct
}

// Response is a decoded response envelope. Code and Message are set when
// OK is false.
type Response struct {
	ID      uint64
	OK      bool
	Code    int32
	Message string
	Result  *structpb.Struct
}

// Err returns the response failure as an error wrapping the sentinel of
// its code, or nil.
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %s", errors.CodeToError(r.Code), r.Message)
}

// EncodeRequest builds a request envelope.
func EncodeRequest(req *Request) *structpb.Struct {
	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		"id": structpb.NewNumberValue(float64(req.ID)),
		"op": structpb.NewStringValue(req.Op),
	}}
	if req.Body != nil {
		env.Fields["request"] = structpb.NewStructValue(req.Body)
	}
	return env
}

// DecodeRequest validates and unpacks a request envelope.
func DecodeRequest(env *structpb.Struct) (*Request, error) {
	req := &Request{ID: idOf(env)}
	op, ok := env.GetFields()["op"]
	if !ok || op.GetStringValue() == "" {
		return req, errors.NewMissingField("op")
	}
	req.Op = op.GetStringValue()
	if body, ok := env.GetFields()["request"]; ok {
		if body.GetStructValue() == nil {
			return req, errors.NewValidation("request", "must be an object")
		}
		req.Body = body.GetStructValue()
	}
	return req, nil
}

// EncodeResponse builds a response envelope.
func EncodeResponse(resp *Response) *structpb.Struct {
	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		"id": structpb.NewNumberValue(float64(resp.ID)),
		"ok": structpb.NewBoolValue(resp.OK),
	}}
	if !resp.OK {
		env.Fields["error"] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"code":    structpb.NewNumberValue(float64(resp.Code)),
			"message": structpb.NewStringValue(resp.Message),
		}})
	}
	if resp.Result != nil {
		env.Fields["result"] = structpb.NewStructValue(resp.Result)
	}
	return env
}

// DecodeResponse unpacks a response envelope.
func DecodeResponse(env *structpb.Struct) *Response {
	f := env.GetFields()
	resp := &Response{
		ID: idOf(env),
		OK: f["ok"].GetBoolValue(),
	}
	if e := f["error"].GetStructValue(); e != nil {
		resp.Code = int32(e.GetFields()["code"].GetNumberValue())
		resp.Message = e.GetFields()["message"].GetStringValue()
	}
	resp.Result = f["result"].GetStructValue()
	return resp
}

// NewError creates an error response for the given request ID.
// Error codes should be from the errors package (errors.Code*).
func NewError(id uint64, code int32, msg string) *structpb.Struct {
	return EncodeResponse(&Response{ID: id, Code: code, Message: msg})
}

// NewErrorFromErr creates an error response from a Go error, mapping it to
// its wire code with errors.ErrorToCode.
func NewErrorFromErr(id uint64, err error) *structpb.Struct {
	return NewError(id, errors.ErrorToCode(err), err.Error())
}

// NewResult creates a success response carrying v, which is converted via
// its JSON form.
func NewResult(id uint64, v any) (*structpb.Struct, error) {
	var result *structpb.Struct
	if v != nil {
		s, err := ToStruct(v)
		if err != nil {
			return nil, err
		}
		result = s
	}
	return EncodeResponse(&Response{ID: id, OK: true, Result: result}), nil
}

func idOf(env *structpb.Struct) uint64 {
	return uint64(env.GetFields()["id"].GetNumberValue())
}

// =============================================================================
// JSON bridging
// =============================================================================

// ToStruct converts any JSON-marshalable object to a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return s, nil
}

// StructJSON renders a Struct as JSON; nil renders as an empty object.
func StructJSON(s *structpb.Struct) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return protojson.Marshal(s)
}

// FromStruct decodes a Struct into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := StructJSON(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
