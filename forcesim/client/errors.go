package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// IntegrityError reports a response that could not be parsed or that broke
// the envelope contract. It is never retried.
type IntegrityError struct {
	RawText string
	// Partial is the decoded top-level object, nil if the body was not a JSON object.
	Partial map[string]json.RawMessage
	Err     error
	Message string
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("response integrity: %s: %v", e.Message, e.Err)
	}
	return "response integrity: " + e.Message
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// ErrorResponse reports an error the instance returned in the envelope.
type ErrorResponse struct {
	Response *Response
}

// Code returns the error code reported by the instance.
func (e *ErrorResponse) Code() ErrorCode {
	return e.Response.ErrorCode
}

// ItemErrors returns the per-item errors of a Multiple response, keyed by
// the item key as it appeared in the response.
func (e *ErrorResponse) ItemErrors() map[string]ItemError {
	out := make(map[string]ItemError)
	d := e.Response.Data
	if d == nil {
		return out
	}
	for i, it := range d.Bare {
		if it.Err != nil {
			out[fmt.Sprintf("%d", i)] = *it.Err
		}
	}
	for _, pr := range d.Pairs {
		if pr.Err != nil {
			out[compact(pr.Key)] = *pr.Err
		}
	}
	for k, it := range d.StringMap {
		if it.Err != nil {
			out[k] = *it.Err
		}
	}
	return out
}

func (e *ErrorResponse) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s returned %s: %s", e.Response.URL, e.Response.ErrorCode, e.Response.Message)
	if e.Response.ErrorCode == Multiple {
		items := e.ItemErrors()
		keys := make([]string, 0, len(items))
		for k := range items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; [%s] %s", k, items[k])
		}
	}
	return b.String()
}

// IsCode reports whether err is an *ErrorResponse carrying code.
func IsCode(err error, code ErrorCode) bool {
	var er *ErrorResponse
	return errors.As(err, &er) && er.Code() == code
}
