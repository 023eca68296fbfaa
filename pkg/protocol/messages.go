// Package protocol defines the bridge wire messages exchanged over the shared channel.
package protocol

// DefaultNamespace tags every message posted by this bridge. Payloads carrying
// another tag belong to unrelated traffic on the channel.
const DefaultNamespace = "capability-bridge/v1"

// Version is the protocol version announced by providers.
const Version = "1.0.0"

// Well-known method names.
const (
	MethodPing         = "ping"
	MethodAvailability = "availability"
)

// Kind discriminates the message variants.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindReady    Kind = "ready"
	KindProbe    Kind = "probe"
)

// Error codes carried in ErrorDetail.Code.
const (
	CodeUnknownMethod  = "UNKNOWN_METHOD"
	CodeProviderError  = "PROVIDER_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
)

// Message is one of *Request, *Response, *Ready or *Probe.
type Message interface {
	messageKind() Kind
}

// Request asks the provider side to run a method with positional arguments.
type Request struct {
	Bridge    string        `json:"bridge"`
	Kind      Kind          `json:"kind"`
	Method    string        `json:"method"`
	Args      []interface{} `json:"args"`
	RequestID string        `json:"requestId"`
}

// Response settles the request with the same RequestID.
type Response struct {
	Bridge    string       `json:"bridge"`
	Kind      Kind         `json:"kind"`
	RequestID string       `json:"requestId"`
	Ok        bool         `json:"ok"`
	Result    interface{}  `json:"result,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the serializable form of a failed call.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Ready announces that a provider is attached to the channel.
type Ready struct {
	Bridge          string   `json:"bridge"`
	Kind            Kind     `json:"kind"`
	ProtocolVersion string   `json:"protocolVersion"`
	Methods         []string `json:"methods"`
}

// Probe asks any attached provider to announce itself.
type Probe struct {
	Bridge string `json:"bridge"`
	Kind   Kind   `json:"kind"`
}

func (*Request) messageKind() Kind  { return KindRequest }
func (*Response) messageKind() Kind { return KindResponse }
func (*Ready) messageKind() Kind    { return KindReady }
func (*Probe) messageKind() Kind    { return KindProbe }

// KindOf returns the variant of m.
func KindOf(m Message) Kind {
	return m.messageKind()
}

// NewRequest builds a request. Nil args are sent as an empty list.
func NewRequest(namespace, requestID, method string, args []interface{}) *Request {
	if args == nil {
		args = []interface{}{}
	}
	return &Request{
		Bridge:    namespace,
		Kind:      KindRequest,
		Method:    method,
		Args:      args,
		RequestID: requestID,
	}
}

// NewResult builds a successful response.
func NewResult(namespace, requestID string, result interface{}) *Response {
	return &Response{
		Bridge:    namespace,
		Kind:      KindResponse,
		RequestID: requestID,
		Ok:        true,
		Result:    result,
	}
}

// NewFailure builds a failed response.
func NewFailure(namespace, requestID string, detail *ErrorDetail) *Response {
	return &Response{
		Bridge:    namespace,
		Kind:      KindResponse,
		RequestID: requestID,
		Ok:        false,
		Error:     detail,
	}
}

// NewReady builds a provider announcement.
func NewReady(namespace, version string, methods []string) *Ready {
	if methods == nil {
		methods = []string{}
	}
	return &Ready{
		Bridge:          namespace,
		Kind:            KindReady,
		ProtocolVersion: version,
		Methods:         methods,
	}
}

// NewProbe builds a presence probe.
func NewProbe(namespace string) *Probe {
	return &Probe{Bridge: namespace, Kind: KindProbe}
}
