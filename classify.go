package reqpipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Outcome is the settled result of a request. Err is nil on success and a
// *Error otherwise.
type Outcome struct {
	Data any
	// Message is the business envelope message, when there was one.
	Message  string
	Cached   bool
	Attempts int
	Err      error
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Classify turns the result of one transport attempt into an Outcome. It has
// no side effects; recovery runs separately on the final failure.
func Classify(resp *Response, err error, offline bool) Outcome {
	if err != nil || resp == nil {
		return Outcome{Err: transportFailure(err, offline)}
	}

	body := decodeBody(resp.Body)
	if resp.Status < 200 || resp.Status >= 300 {
		detail := ""
		if env, ok := parseEnvelope(body); ok {
			detail = env.message
		} else if m, ok := body.(map[string]any); ok {
			detail, _ = m["message"].(string)
		}
		return Outcome{Err: &Error{
			Kind:    KindHTTP,
			Status:  resp.Status,
			Message: statusMessage(resp.Status, detail),
			Detail:  detail,
		}}
	}

	env, ok := parseEnvelope(body)
	if !ok {
		return Outcome{Data: body}
	}
	if env.succeeded() {
		return Outcome{Data: env.data, Message: env.message}
	}
	return Outcome{Err: &Error{
		Kind:    KindBusiness,
		Status:  env.code,
		Message: statusMessage(env.code, env.message),
		Detail:  env.message,
	}}
}

func transportFailure(err error, offline bool) *Error {
	if err == nil {
		err = errors.New("no response")
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindNetwork, Message: "request canceled", Cause: err}
	case isTimeout(err):
		return &Error{Kind: KindTimeout, Message: "request timed out, please try again later", Cause: err}
	case offline:
		return &Error{Kind: KindNetwork, Message: "you appear to be offline, check your network connection", Cause: err}
	default:
		return &Error{Kind: KindNetwork, Message: "network error, please check your connection", Cause: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusMessage is the normalized message for a failing status or business
// code. detail is the server-supplied text, used only for codes without a
// dedicated handler.
func statusMessage(code int, detail string) string {
	switch {
	case code == http.StatusUnauthorized:
		return "session expired, please sign in again"
	case code == http.StatusForbidden:
		return "access denied"
	case code == http.StatusNotFound:
		return "resource not found"
	case code == http.StatusTooManyRequests:
		return "too many requests, please slow down and try again shortly"
	case isServerError(code):
		return "server error, please try again later"
	case detail != "":
		return detail
	default:
		return fmt.Sprintf("request failed (%d)", code)
	}
}

func isServerError(code int) bool {
	return code >= 500 && code <= 599
}

func decodeBody(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}

type envelope struct {
	code    int
	message string
	success *bool
	data    any
}

func (e envelope) succeeded() bool {
	if e.success != nil && *e.success {
		return true
	}
	return e.code == 200 || e.code == 0
}

// parseEnvelope recognizes {code, message, success, data}: a numeric code plus
// at least one of the other fields.
func parseEnvelope(body any) (envelope, bool) {
	m, ok := body.(map[string]any)
	if !ok {
		return envelope{}, false
	}
	code, ok := m["code"].(float64)
	if !ok || code != float64(int(code)) {
		return envelope{}, false
	}
	_, hasMessage := m["message"]
	_, hasSuccess := m["success"]
	_, hasData := m["data"]
	if !hasMessage && !hasSuccess && !hasData {
		return envelope{}, false
	}

	env := envelope{code: int(code), data: m["data"]}
	env.message, _ = m["message"].(string)
	if s, ok := m["success"].(bool); ok {
		env.success = &s
	}
	return env, true
}
