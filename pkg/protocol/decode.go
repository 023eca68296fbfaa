package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/morezero/capability-bridge/pkg/commsutil"
)

const logPrefix = "protocol:decode"

// ErrMalformedMessage marks a payload that is not one of the bridge variants.
// The channel may carry unrelated traffic, so receivers drop these silently.
var ErrMalformedMessage = errors.New("malformed bridge message")

const requestSchema = `{
	"type": "object",
	"required": ["kind", "method", "args", "requestId"],
	"properties": {
		"method":    {"type": "string", "minLength": 1},
		"args":      {"type": "array"},
		"requestId": {"type": "string", "minLength": 1}
	}
}`

const responseSchema = `{
	"type": "object",
	"required": ["kind", "requestId", "ok"],
	"properties": {
		"requestId": {"type": "string", "minLength": 1},
		"ok":        {"type": "boolean"},
		"error": {
			"type": "object",
			"required": ["message"],
			"properties": {
				"code":    {"type": "string"},
				"message": {"type": "string"},
				"detail":  {"type": "string"}
			}
		}
	}
}`

const readySchema = `{
	"type": "object",
	"required": ["kind", "protocolVersion"],
	"properties": {
		"protocolVersion": {"type": "string", "minLength": 1},
		"methods": {"type": "array", "items": {"type": "string"}}
	}
}`

const probeSchema = `{
	"type": "object",
	"required": ["kind"]
}`

var schemas = mustCompileSchemas(map[Kind]string{
	KindRequest:  requestSchema,
	KindResponse: responseSchema,
	KindReady:    readySchema,
	KindProbe:    probeSchema,
})

func mustCompileSchemas(src map[Kind]string) map[Kind]*gojsonschema.Schema {
	out := make(map[Kind]*gojsonschema.Schema, len(src))
	for kind, s := range src {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
		if err != nil {
			panic(fmt.Sprintf("%s - invalid %s schema: %v", logPrefix, kind, err))
		}
		out[kind] = schema
	}
	return out
}

// Decode validates data against the variant named by its kind tag and returns
// the narrowed message. Payloads with a namespace other than namespace, an
// unknown kind, or a shape that does not match the variant yield an error
// wrapping ErrMalformedMessage. A payload without a bridge tag is accepted
// only under DefaultNamespace.
func Decode(codec commsutil.Codec, namespace string, data []byte) (Message, error) {
	var generic map[string]interface{}
	if err := codec.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if generic == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}

	bridge, tagged := generic["bridge"]
	if !tagged {
		if namespace != DefaultNamespace {
			return nil, fmt.Errorf("%w: missing namespace", ErrMalformedMessage)
		}
	} else if tag, _ := bridge.(string); tag != namespace {
		return nil, fmt.Errorf("%w: foreign namespace %v", ErrMalformedMessage, bridge)
	}

	kindStr, _ := generic["kind"].(string)
	kind := Kind(kindStr)
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, kindStr)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(generic))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformedMessage, kind, strings.Join(details, "; "))
	}

	var msg Message
	switch kind {
	case KindRequest:
		msg = &Request{}
	case KindResponse:
		msg = &Response{}
	case KindReady:
		msg = &Ready{}
	case KindProbe:
		msg = &Probe{}
	}
	if err := codec.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

// Encode serializes a message with codec.
func Encode(codec commsutil.Codec, m Message) ([]byte, error) {
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode %s: %w", logPrefix, KindOf(m), err)
	}
	return data, nil
}
