package message

import (
	"fmt"
	"strings"

	"github.com/c360/ustreamer/errors"
)

// Kind identifies how a message is addressed and routed.
type Kind uint8

const (
	KindUnspecified Kind = iota
	KindPublish
	KindRequest
	KindResponse
	KindNotification
)

var kindNames = map[Kind]string{
	KindUnspecified:  "unspecified",
	KindPublish:      "publish",
	KindRequest:      "request",
	KindResponse:     "response",
	KindNotification: "notification",
}

// String returns the lower-case kind name used in logs, metrics and JSON.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsPointToPoint reports whether the kind is routed by sink only.
func (k Kind) IsPointToPoint() bool {
	return k == KindRequest || k == KindResponse
}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return KindUnspecified, errors.InvalidArgument(
		fmt.Errorf("%w: unknown message kind %q", errors.ErrInvalidData, s),
		"message", "ParseKind", "parse kind")
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Format hints at the payload encoding. The streamer never inspects payloads.
type Format uint8

const (
	FormatUnspecified Format = iota
	FormatJSON
	FormatProtobuf
	FormatText
	FormatRaw
	FormatSOMEIP
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatProtobuf:
		return "protobuf"
	case FormatText:
		return "text"
	case FormatRaw:
		return "raw"
	case FormatSOMEIP:
		return "someip"
	default:
		return "unspecified"
	}
}
