package client

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ErrorCode is an error condition reported by the instance in a response envelope.
type ErrorCode string

const (
	GeneralError          ErrorCode = "General_error"
	JSONParseError        ErrorCode = "Json_parse_error"
	JSONTypeError         ErrorCode = "Json_type_error"
	Multiple              ErrorCode = "Multiple"
	AlreadyStarted        ErrorCode = "Already_started"
	NotFound              ErrorCode = "Not_found"
	AgentNotImplemented   ErrorCode = "Agent_not_implemented"
	AgentConfigError      ErrorCode = "Agent_config_error"
	SubscriberConfigError ErrorCode = "Subscriber_config_error"
)

// validErrorCodes maps accepted error code strings.
var validErrorCodes = map[ErrorCode]bool{
	GeneralError:          true,
	JSONParseError:        true,
	JSONTypeError:         true,
	Multiple:              true,
	AlreadyStarted:        true,
	NotFound:              true,
	AgentNotImplemented:   true,
	AgentConfigError:      true,
	SubscriberConfigError: true,
}

// DataType is the shape of the data member of a response envelope.
type DataType string

const (
	DataPlain         DataType = "Data"
	MultipleStringmap DataType = "Multiple_stringmap"
	MultiplePairlist  DataType = "Multiple_pairlist"
	MultipleBarelist  DataType = "Multiple_barelist"
)

// validDataTypes maps accepted data type strings.
var validDataTypes = map[DataType]bool{
	DataPlain:         true,
	MultipleStringmap: true,
	MultiplePairlist:  true,
	MultipleBarelist:  true,
}

// IsMultiple reports whether t is one of the per-item batch shapes.
func (t DataType) IsMultiple() bool {
	return t == MultipleStringmap || t == MultiplePairlist || t == MultipleBarelist
}

// ItemError is the (error code, message) pair the instance reports for a
// single failed item of a batch request.
type ItemError struct {
	Code    ErrorCode
	Message string
}

func (e ItemError) String() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Item is one entry of a batch response: either a raw value or an item error.
type Item struct {
	Value json.RawMessage
	Err   *ItemError
}

// Pair is one entry of a Multiple_pairlist response.
type Pair struct {
	Key json.RawMessage
	Item
}

// Data is the processed data member of a response. Exactly one of the shape
// fields is populated, according to Type.
type Data struct {
	Type      DataType
	Raw       json.RawMessage
	Bare      []Item
	Pairs     []Pair
	StringMap map[string]Item
}

// Response is a parsed response envelope. A non-empty ErrorCode makes it an
// error response; otherwise it is an ok response.
type Response struct {
	URL            string
	RequestPayload []byte
	RawText        string
	Message        string
	DataType       DataType // empty when data_type is null
	Data           *Data    // nil when data is null
	ErrorCode      ErrorCode
}

// IsError reports whether the instance reported an error.
func (r *Response) IsError() bool {
	return r.ErrorCode != ""
}

// Decode unmarshals a plain Data payload into v.
func (r *Response) Decode(v any) error {
	if r.Data == nil || r.Data.Type != DataPlain {
		return fmt.Errorf("response from %s carries no plain data (data_type %q)", r.URL, r.DataType)
	}
	return json.Unmarshal(r.Data.Raw, v)
}

// Parse classifies the raw body of a response to a request sent to url.
// It returns an ok or error Response, or an *IntegrityError when the body
// does not follow the envelope contract.
func Parse(url string, payload, raw []byte) (*Response, error) {
	p := &parser{raw: raw}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, p.fail(err, "unable to parse JSON in the instance's response")
	}
	p.partial = top

	fields := make(map[string]json.RawMessage, 4)
	for _, k := range []string{"message", "data", "error_code", "data_type"} {
		v, ok := top[k]
		if !ok {
			return nil, p.fail(fmt.Errorf("missing key %q", k), "response envelope is missing %q", k)
		}
		fields[k] = v
	}

	var message string
	if err := json.Unmarshal(fields["message"], &message); err != nil {
		return nil, p.fail(err, "message is not a string")
	}
	code, err := p.errorCode(fields["error_code"])
	if err != nil {
		return nil, err
	}
	dataType, err := p.dataType(fields["data_type"])
	if err != nil {
		return nil, err
	}

	data, err := p.reshape(code, dataType, fields["data"])
	if err != nil {
		return nil, err
	}

	return &Response{
		URL:            url,
		RequestPayload: payload,
		RawText:        string(raw),
		Message:        message,
		DataType:       dataType,
		Data:           data,
		ErrorCode:      code,
	}, nil
}

type parser struct {
	raw     []byte
	partial map[string]json.RawMessage
}

func (p *parser) fail(err error, format string, args ...any) *IntegrityError {
	return &IntegrityError{
		RawText: string(p.raw),
		Partial: p.partial,
		Err:     err,
		Message: fmt.Sprintf(format, args...),
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// nullableString decodes a JSON string or null; null yields "", false.
func nullableString(raw json.RawMessage) (string, bool, error) {
	if isNull(raw) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (p *parser) errorCode(raw json.RawMessage) (ErrorCode, error) {
	s, ok, err := nullableString(raw)
	if err != nil {
		return "", p.fail(err, "error_code is neither a string nor null")
	}
	if !ok {
		return "", nil
	}
	if !validErrorCodes[ErrorCode(s)] {
		return "", p.fail(fmt.Errorf("unknown error code %q", s), "unknown error_code %q", s)
	}
	return ErrorCode(s), nil
}

func (p *parser) dataType(raw json.RawMessage) (DataType, error) {
	s, ok, err := nullableString(raw)
	if err != nil {
		return "", p.fail(err, "data_type is neither a string nor null")
	}
	if !ok {
		return "", nil
	}
	if !validDataTypes[DataType(s)] {
		return "", p.fail(fmt.Errorf("unknown data type %q", s), "unknown data_type %q", s)
	}
	return DataType(s), nil
}

func (p *parser) reshape(code ErrorCode, t DataType, raw json.RawMessage) (*Data, error) {
	if code == Multiple && !t.IsMultiple() {
		return nil, p.fail(fmt.Errorf("error code Multiple with data_type %q", t),
			"error_code Multiple requires a Multiple_* data_type, got %q", t)
	}

	switch {
	case t == "":
		if !isNull(raw) {
			return nil, p.fail(fmt.Errorf("data without data_type"), "data_type is null but data is not")
		}
		return nil, nil
	case t == DataPlain:
		return &Data{Type: t, Raw: raw}, nil
	}

	if code != "" && code != Multiple {
		return nil, p.fail(fmt.Errorf("error code %q with data_type %q", code, t),
			"data_type %q requires error_code Multiple or null, got %q", t, code)
	}

	var wrapper struct {
		Data      *json.RawMessage  `json:"data"`
		ErrorKeys []json.RawMessage `json:"error_keys"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, p.fail(err, "%s data is not a {data, error_keys} object", t)
	}
	if wrapper.Data == nil {
		return nil, p.fail(fmt.Errorf("missing key \"data\""), "%s data is missing the inner data member", t)
	}
	inner := *wrapper.Data

	switch t {
	case MultipleBarelist:
		return p.barelist(inner, wrapper.ErrorKeys)
	case MultiplePairlist:
		return p.pairlist(inner, wrapper.ErrorKeys)
	default:
		return p.stringmap(inner, wrapper.ErrorKeys)
	}
}

// jsonKind names the JSON kind of raw for diagnostics.
func jsonKind(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return "nothing"
	}
	switch b[0] {
	case '[':
		return "array"
	case '{':
		return "object"
	case '"':
		return "string"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}

func (p *parser) expectKind(t DataType, raw json.RawMessage, want string) error {
	if got := jsonKind(raw); got != want {
		return p.fail(fmt.Errorf("expected %s, got %s", want, got),
			"%s payload must be a JSON %s, got %s", t, want, got)
	}
	return nil
}

// itemError decodes the [code, message] pair found at an error key.
func (p *parser) itemError(key string, raw json.RawMessage) (*ItemError, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		if err == nil {
			err = fmt.Errorf("expected 2 elements, got %d", len(pair))
		}
		return nil, p.fail(err, "item at error key %s is not an (error_code, message) pair", key)
	}
	var code, msg string
	if err := json.Unmarshal(pair[0], &code); err != nil {
		return nil, p.fail(err, "item at error key %s has a non-string error code", key)
	}
	if err := json.Unmarshal(pair[1], &msg); err != nil {
		return nil, p.fail(err, "item at error key %s has a non-string message", key)
	}
	if !validErrorCodes[ErrorCode(code)] {
		return nil, p.fail(fmt.Errorf("unknown error code %q", code),
			"item at error key %s has unknown error code %q", key, code)
	}
	return &ItemError{Code: ErrorCode(code), Message: msg}, nil
}

func (p *parser) barelist(inner json.RawMessage, errorKeys []json.RawMessage) (*Data, error) {
	if err := p.expectKind(MultipleBarelist, inner, "array"); err != nil {
		return nil, err
	}
	var values []json.RawMessage
	if err := json.Unmarshal(inner, &values); err != nil {
		return nil, p.fail(err, "Multiple_barelist payload is not an array")
	}
	items := make([]Item, len(values))
	for i, v := range values {
		items[i] = Item{Value: v}
	}
	for _, k := range errorKeys {
		var pos int
		if err := json.Unmarshal(k, &pos); err != nil {
			return nil, p.fail(err, "Multiple_barelist error key %s is not an integer", string(k))
		}
		if pos < 0 || pos >= len(values) {
			return nil, p.fail(fmt.Errorf("error key %d out of range [0,%d)", pos, len(values)),
				"Multiple_barelist error key %d has no item", pos)
		}
		ie, err := p.itemError(fmt.Sprintf("%d", pos), values[pos])
		if err != nil {
			return nil, err
		}
		items[pos] = Item{Err: ie}
	}
	return &Data{Type: MultipleBarelist, Bare: items}, nil
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (p *parser) pairlist(inner json.RawMessage, errorKeys []json.RawMessage) (*Data, error) {
	if err := p.expectKind(MultiplePairlist, inner, "array"); err != nil {
		return nil, err
	}
	var entries [][]json.RawMessage
	if err := json.Unmarshal(inner, &entries); err != nil {
		return nil, p.fail(err, "Multiple_pairlist payload is not an array of [key, value] pairs")
	}
	isErr := make(map[string]bool, len(errorKeys))
	for _, k := range errorKeys {
		isErr[compact(k)] = true
	}
	seen := make(map[string]bool, len(errorKeys))
	pairs := make([]Pair, len(entries))
	for i, e := range entries {
		if len(e) != 2 {
			return nil, p.fail(fmt.Errorf("expected 2 elements, got %d", len(e)),
				"Multiple_pairlist entry %d is not a [key, value] pair", i)
		}
		key := compact(e[0])
		pairs[i] = Pair{Key: e[0], Item: Item{Value: e[1]}}
		if isErr[key] {
			ie, err := p.itemError(key, e[1])
			if err != nil {
				return nil, err
			}
			pairs[i].Item = Item{Err: ie}
			seen[key] = true
		}
	}
	for k := range isErr {
		if !seen[k] {
			return nil, p.fail(fmt.Errorf("error key %s not present", k), "Multiple_pairlist error key %s has no item", k)
		}
	}
	return &Data{Type: MultiplePairlist, Pairs: pairs}, nil
}

func (p *parser) stringmap(inner json.RawMessage, errorKeys []json.RawMessage) (*Data, error) {
	if err := p.expectKind(MultipleStringmap, inner, "object"); err != nil {
		return nil, err
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(inner, &values); err != nil {
		return nil, p.fail(err, "Multiple_stringmap payload is not an object")
	}
	items := make(map[string]Item, len(values))
	for k, v := range values {
		items[k] = Item{Value: v}
	}
	for _, rk := range errorKeys {
		var k string
		if err := json.Unmarshal(rk, &k); err != nil {
			return nil, p.fail(err, "Multiple_stringmap error key %s is not a string", string(rk))
		}
		v, ok := values[k]
		if !ok {
			return nil, p.fail(fmt.Errorf("error key %q not present", k), "Multiple_stringmap error key %q has no item", k)
		}
		ie, err := p.itemError(fmt.Sprintf("%q", k), v)
		if err != nil {
			return nil, err
		}
		items[k] = Item{Err: ie}
	}
	return &Data{Type: MultipleStringmap, StringMap: items}, nil
}
