package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectBridge    = "bridge.capability.v1"
	SubjectCallEvent = "bridge.calls"
)

// BuildCallSubject builds a per-method call event subject.
func BuildCallSubject(prefix, method string) string {
	if prefix == "" {
		prefix = SubjectCallEvent
	}
	return fmt.Sprintf("%s.%s", prefix, subjectToken(method))
}

// BuildBridgeSubject builds the broadcast subject shared by both sides of a bridge
// for one origin. Origins such as "https://www.linkedin.com" are reduced to a
// single subject token.
func BuildBridgeSubject(prefix, origin string) string {
	if prefix == "" {
		prefix = SubjectBridge
	}
	if origin == "" {
		return prefix
	}
	return fmt.Sprintf("%s.%s", prefix, subjectToken(origin))
}

// subjectToken replaces characters NATS treats as separators or wildcards.
func subjectToken(s string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", ":", "_", "/", "_")
	return r.Replace(s)
}
