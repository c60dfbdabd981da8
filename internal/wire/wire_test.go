package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/nrcsync/internal/errors"
)

func TestFramingStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	body, err := structpb.NewStruct(map[string]any{"rundownExternalId": "rd0"})
	require.NoError(t, err)
	require.NoError(t, w.Write(EncodeRequest(&Request{ID: 1, Op: "removeRundown", Body: body})))
	require.NoError(t, w.Write(EncodeRequest(&Request{ID: 2, Op: "stats"})))

	r := NewReader(&buf)
	env, err := r.Read()
	require.NoError(t, err)
	req, err := DecodeRequest(env)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), req.ID)
	assert.Equal(t, "removeRundown", req.Op)
	assert.Equal(t, "rd0", req.Body.GetFields()["rundownExternalId"].GetStringValue())

	env, err = r.Read()
	require.NoError(t, err)
	req, err = DecodeRequest(env)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), req.ID)
	assert.Nil(t, req.Body)

	_, err = r.Read()
	assert.Equal(t, io.EOF, err)
}

func TestReadRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	body, err := structpb.NewStruct(map[string]any{"blob": string(make([]byte, 512))})
	require.NoError(t, err)
	require.NoError(t, NewWriter(&buf).Write(EncodeRequest(&Request{ID: 1, Op: "x", Body: body})))

	r := NewReader(&buf)
	r.SetMaxSize(64)
	_, err = r.Read()
	assert.Error(t, err)
}

func TestDecodeRequestValidation(t *testing.T) {
	_, err := DecodeRequest(&structpb.Struct{})
	assert.True(t, errors.IsValidation(err))

	env := EncodeRequest(&Request{ID: 3, Op: "updatePart"})
	env.Fields["request"] = structpb.NewStringValue("nope")
	req, err := DecodeRequest(env)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, uint64(3), req.ID, "id survives for the error reply")
}

func TestErrorResponse(t *testing.T) {
	resp := DecodeResponse(NewErrorFromErr(7, errors.Wrap(errors.ErrLockTimeout, "rundown rd0")))

	assert.Equal(t, uint64(7), resp.ID)
	assert.False(t, resp.OK)
	assert.Equal(t, errors.CodeLockTimeout, resp.Code)
	assert.Contains(t, resp.Message, "rundown rd0")
	assert.True(t, errors.IsRetriable(resp.Err()))
}

func TestResultResponse(t *testing.T) {
	type summary struct {
		Changed int    `json:"changed"`
		Action  string `json:"action"`
	}
	env, err := NewResult(9, summary{Changed: 2, Action: "update"})
	require.NoError(t, err)

	resp := DecodeResponse(env)
	require.True(t, resp.OK)
	assert.NoError(t, resp.Err())

	var got summary
	require.NoError(t, FromStruct(resp.Result, &got))
	assert.Equal(t, summary{Changed: 2, Action: "update"}, got)
}
