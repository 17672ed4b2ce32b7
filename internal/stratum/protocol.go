package stratum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Stratum V1 methods the prober speaks or listens for
const (
	MethodSubscribe     = "mining.subscribe"
	MethodAuthorize     = "mining.authorize"
	MethodNotify        = "mining.notify"
	MethodSetDifficulty = "mining.set_difficulty"
)

// Request ids the prober assigns
const (
	SubscribeID = 1
	AuthorizeID = 2
)

// Message represents a Stratum JSON-RPC message
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error represents a Stratum error response. Pools send it either as the
// conventional [code, message, traceback] array or as a JSON-RPC object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// UnmarshalJSON accepts the array and the object form. Some pools send a bare
// string or boolean instead; that becomes the Message.
func (e *Error) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return fmt.Errorf("invalid stratum error %q", data)
	}
	switch data[0] {
	case '{':
		type plain Error
		return json.Unmarshal(data, (*plain)(e))
	case '"':
		return json.Unmarshal(data, &e.Message)
	case '[':
	default:
		e.Message = string(data)
		return nil
	}

	var parts []any
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) > 0 {
		if code, ok := parts[0].(float64); ok {
			e.Code = int(code)
		}
	}
	if len(parts) > 1 {
		e.Message = fmt.Sprint(parts[1])
	}
	if len(parts) > 2 {
		e.Data = parts[2]
	}
	return nil
}

// Error renders the pool's error
func (e *Error) Error() string {
	return fmt.Sprintf("stratum error %d: %s", e.Code, e.Message)
}

// Common Stratum error codes
const (
	ErrorOther          = 20
	ErrorJobNotFound    = 21
	ErrorDuplicateShare = 22
	ErrorLowDifficulty  = 23
	ErrorUnauthorized   = 24
	ErrorNotSubscribed  = 25
)

// ExtraNonce is what mining.subscribe assigns to the connection
type ExtraNonce struct {
	Extranonce1     string
	Extranonce2Size int
}

// JobTemplate holds the mining.notify fields needed to rebuild the coinbase
type JobTemplate struct {
	JobID        string
	PrevHash     string
	Coinb1       string
	Coinb2       string
	MerkleBranch []string
	Version      string
	NBits        string
	NTime        string
	CleanJobs    bool
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewRequest creates a new request message
func NewRequest(id any, method string, params []any) *Message {
	return &Message{
		ID:     id,
		Method: method,
		Params: params,
	}
}

// NewResponse creates a new response message
func NewResponse(id any, result any) *Message {
	return &Message{
		ID:     id,
		Result: result,
	}
}

// NewErrorResponse creates a new error response message
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{
		ID: id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// NewNotification creates a new notification message
func NewNotification(method string, params []any) *Message {
	return &Message{
		ID:     nil,
		Method: method,
		Params: params,
	}
}

// IsResponse returns true if the message answers a request
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// IDKey normalises the id so 1, 1.0 and "1" correlate the same way
func (m *Message) IDKey() string {
	switch id := m.ID.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// ParseSubscribeResult extracts extranonce1 from result[1] when it is a string
// and extranonce2_size from result[2] when it is a number. Missing fields are
// left zero.
func ParseSubscribeResult(result any) ExtraNonce {
	var en ExtraNonce
	fields, ok := result.([]any)
	if !ok {
		return en
	}
	if len(fields) > 1 {
		if s, ok := fields[1].(string); ok {
			en.Extranonce1 = s
		}
	}
	if len(fields) > 2 {
		if n, ok := fields[2].(float64); ok && n >= 0 {
			en.Extranonce2Size = int(n)
		}
	}
	return en
}

// Truthy applies loose truthiness to an authorize result: false, null, 0 and
// "" are false, anything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// ParseNotify reads mining.notify params by position: job id, prevhash,
// coinb1, coinb2, merkle branch, version, nbits, ntime, clean jobs.
func ParseNotify(params []any) (*JobTemplate, error) {
	if len(params) < 8 {
		return nil, fmt.Errorf("mining.notify has %d params, need at least 8", len(params))
	}

	str := func(i int, name string, required bool) (string, error) {
		s, ok := params[i].(string)
		if !ok && required {
			return "", fmt.Errorf("mining.notify %s must be string", name)
		}
		return s, nil
	}

	job := &JobTemplate{}
	var err error
	if job.Coinb1, err = str(2, "coinb1", true); err != nil {
		return nil, err
	}
	if job.Coinb2, err = str(3, "coinb2", true); err != nil {
		return nil, err
	}
	if job.NBits, err = str(6, "nbits", true); err != nil {
		return nil, err
	}
	if job.NTime, err = str(7, "ntime", true); err != nil {
		return nil, err
	}
	job.JobID = fmt.Sprint(params[0])
	job.PrevHash, _ = str(1, "prevhash", false)
	job.Version, _ = str(5, "version", false)

	if branch, ok := params[4].([]any); ok {
		for _, b := range branch {
			if s, ok := b.(string); ok {
				job.MerkleBranch = append(job.MerkleBranch, s)
			}
		}
	}
	if len(params) > 8 {
		job.CleanJobs, _ = params[8].(bool)
	}

	return job, nil
}

// NotifyParams renders a template as mining.notify params
func (j *JobTemplate) NotifyParams() []any {
	branch := make([]any, len(j.MerkleBranch))
	for i, b := range j.MerkleBranch {
		branch[i] = b
	}
	return []any{j.JobID, j.PrevHash, j.Coinb1, j.Coinb2, branch, j.Version, j.NBits, j.NTime, j.CleanJobs}
}
