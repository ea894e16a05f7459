package reqpipe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		wantCode int
		wantData any
		wantMsg  string
	}{
		{
			name:     "envelope success code 200",
			status:   http.StatusOK,
			body:     `{"code":200,"data":{"userCount":10}}`,
			wantData: map[string]any{"userCount": float64(10)},
		},
		{
			name:     "envelope success code 0",
			status:   http.StatusOK,
			body:     `{"code":0,"message":"ok","data":[1]}`,
			wantData: []any{float64(1)},
			wantMsg:  "ok",
		},
		{
			name:     "success flag wins over code",
			status:   http.StatusOK,
			body:     `{"code":7,"success":true,"data":"x"}`,
			wantData: "x",
		},
		{
			name:     "business failure",
			status:   http.StatusOK,
			body:     `{"code":1001,"message":"insufficient balance"}`,
			wantKind: KindBusiness,
			wantCode: 1001,
			wantMsg:  "insufficient balance",
		},
		{
			name:     "business 401 gets the session message",
			status:   http.StatusOK,
			body:     `{"code":401,"message":"login required"}`,
			wantKind: KindBusiness,
			wantCode: 401,
			wantMsg:  "session expired, please sign in again",
		},
		{
			name:     "code without other envelope fields is raw data",
			status:   http.StatusOK,
			body:     `{"code":5}`,
			wantData: map[string]any{"code": float64(5)},
		},
		{
			name:     "non-json body",
			status:   http.StatusOK,
			body:     `hello`,
			wantData: "hello",
		},
		{
			name:   "empty body",
			status: http.StatusNoContent,
		},
		{
			name:     "http 404",
			status:   http.StatusNotFound,
			body:     `{"message":"gone"}`,
			wantKind: KindHTTP,
			wantCode: 404,
			wantMsg:  "resource not found",
		},
		{
			name:     "http 418 keeps server detail",
			status:   http.StatusTeapot,
			body:     `{"code":418,"message":"short and stout"}`,
			wantKind: KindHTTP,
			wantCode: 418,
			wantMsg:  "short and stout",
		},
		{
			name:     "http 409 without detail",
			status:   http.StatusConflict,
			wantKind: KindHTTP,
			wantCode: 409,
			wantMsg:  "request failed (409)",
		},
		{
			name:     "http 503",
			status:   http.StatusServiceUnavailable,
			body:     `<html>down</html>`,
			wantKind: KindHTTP,
			wantCode: 503,
			wantMsg:  "server error, please try again later",
		},
		{
			name:     "2xx with failing envelope",
			status:   http.StatusCreated,
			body:     `{"code":422,"success":false}`,
			wantKind: KindBusiness,
			wantCode: 422,
			wantMsg:  "request failed (422)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(&Response{Status: tt.status, Body: []byte(tt.body)}, nil, false)
			if tt.wantKind == 0 {
				require.NoError(t, out.Err)
				assert.Equal(t, tt.wantData, out.Data)
				assert.Equal(t, tt.wantMsg, out.Message)
				return
			}
			e, ok := AsError(out.Err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantCode, e.Status)
			assert.Equal(t, tt.wantMsg, e.Message)
			assert.Nil(t, out.Data)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_TransportFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		offline  bool
		wantKind Kind
		wantMsg  string
	}{
		{"deadline", context.DeadlineExceeded, false, KindTimeout, "request timed out, please try again later"},
		{"net timeout", fmt.Errorf("execute request: %w", timeoutErr{}), false, KindTimeout, "request timed out, please try again later"},
		{"canceled", context.Canceled, true, KindNetwork, "request canceled"},
		{"offline", errors.New("dial tcp"), true, KindNetwork, "you appear to be offline, check your network connection"},
		{"refused", errors.New("dial tcp"), false, KindNetwork, "network error, please check your connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify(nil, tt.err, tt.offline)
			e, ok := AsError(out.Err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantMsg, e.Message)
			assert.ErrorIs(t, out.Err, tt.err)
		})
	}
}

func TestError_Is(t *testing.T) {
	timeout := &Error{Kind: KindTimeout, Message: "x"}
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.ErrorIs(t, timeout, ErrNetwork)
	assert.NotErrorIs(t, timeout, ErrHTTP)

	network := &Error{Kind: KindNetwork}
	assert.NotErrorIs(t, network, ErrTimeout)
	assert.True(t, network.Transport())

	httpErr := &Error{Kind: KindHTTP, Status: 404, Message: "resource not found"}
	assert.Equal(t, "HttpError(404): resource not found", httpErr.Error())
	assert.False(t, httpErr.Transport())

	wrapped := fmt.Errorf("load: %w", httpErr)
	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 404, e.Status)
}
