// Package uri implements the structured address used on every transport the
// streamer bridges: an authority plus entity id, entity major version and
// resource id.
//
// The text form is
//
//	//authority/<entity id hex>/<major version hex>/<resource id hex>
//
// for example //topic_authority/1236/1/8001. The authority may be omitted
// ("/1236/1/8001") to denote a local address.
package uri

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/ustreamer/errors"
)

// Wildcard values used in filters.
const (
	WildcardAuthority = "*"
	WildcardEntityID  = uint32(0xFFFF)
	WildcardVersion   = uint8(0xFF)
	WildcardResource  = uint16(0xFFFF)
)

// Resource id ranges.
const (
	// ResourceRPCResponse is the resource id of an RPC response sink.
	ResourceRPCResponse = uint16(0)
	// ResourceTopicMin is the first resource id usable as a publish topic.
	ResourceTopicMin = uint16(0x8000)
	// ResourceNotification is the well-known resource used for notification topics.
	ResourceNotification = uint16(0x8001)
)

// URI is a comparable value; use it directly as a map key.
type URI struct {
	Authority    string
	EntityID     uint32
	MajorVersion uint8
	ResourceID   uint16
}

// Any returns the filter matching every URI.
func Any() URI {
	return URI{
		Authority:    WildcardAuthority,
		EntityID:     WildcardEntityID,
		MajorVersion: WildcardVersion,
		ResourceID:   WildcardResource,
	}
}

// AnyIn returns the filter matching every URI of authority.
func AnyIn(authority string) URI {
	u := Any()
	u.Authority = authority
	return u
}

// New builds a URI from its parts.
func New(authority string, entityID uint32, version uint8, resource uint16) URI {
	return URI{Authority: authority, EntityID: entityID, MajorVersion: version, ResourceID: resource}
}

// Parse parses the text form. Malformed input returns an INVALID_ARGUMENT error.
func Parse(s string) (URI, error) {
	invalid := func(reason string) (URI, error) {
		return URI{}, errors.InvalidArgument(
			fmt.Errorf("%w: %q: %s", errors.ErrInvalidURI, s, reason), "uri", "Parse", "parse uri")
	}

	if s == "" {
		return invalid("empty")
	}

	var authority, rest string
	switch {
	case strings.HasPrefix(s, "//"):
		trimmed := s[2:]
		idx := strings.IndexByte(trimmed, '/')
		if idx < 0 {
			return invalid("missing path")
		}
		authority, rest = trimmed[:idx], trimmed[idx+1:]
		if authority == "" {
			return invalid("empty authority")
		}
	case strings.HasPrefix(s, "/"):
		rest = s[1:]
	default:
		return invalid("must start with / or //")
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return invalid("expected entity/version/resource")
	}

	entity, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return invalid("bad entity id")
	}
	version, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return invalid("bad major version")
	}
	resource, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil {
		return invalid("bad resource id")
	}

	return URI{
		Authority:    authority,
		EntityID:     uint32(entity),
		MajorVersion: uint8(version),
		ResourceID:   uint16(resource),
	}, nil
}

// MustParse is Parse for literals; it panics on error.
func MustParse(s string) URI {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the text form.
func (u URI) String() string {
	var b strings.Builder
	if u.Authority != "" {
		b.WriteString("//")
		b.WriteString(u.Authority)
	}
	fmt.Fprintf(&b, "/%X/%X/%X", u.EntityID, u.MajorVersion, u.ResourceID)
	return b.String()
}

// IsZero reports whether u is the zero value.
func (u URI) IsZero() bool {
	return u == URI{}
}

// IsTopic reports whether the resource id lies in the publish topic range.
func (u URI) IsTopic() bool {
	return u.ResourceID >= ResourceTopicMin && u.ResourceID != WildcardResource
}

// IsRPCResponse reports whether u addresses an RPC response sink.
func (u URI) IsRPCResponse() bool {
	return u.ResourceID == ResourceRPCResponse
}

// HasWildcard reports whether any field is a wildcard.
func (u URI) HasWildcard() bool {
	return u.Authority == WildcardAuthority ||
		u.EntityID&0xFFFF == WildcardEntityID ||
		u.MajorVersion == WildcardVersion ||
		u.ResourceID == WildcardResource
}

// Matches reports whether u satisfies filter. Filter fields holding a
// wildcard match anything; the entity id wildcard only covers the low 16 bits
// (the entity type) so an instance id in the high bits must still match.
func (u URI) Matches(filter URI) bool {
	if filter.Authority != WildcardAuthority && filter.Authority != u.Authority {
		return false
	}
	if filter.EntityID&0xFFFF == WildcardEntityID {
		if filter.EntityID>>16 != 0 && filter.EntityID>>16 != u.EntityID>>16 {
			return false
		}
	} else if filter.EntityID != u.EntityID {
		return false
	}
	if filter.MajorVersion != WildcardVersion && filter.MajorVersion != u.MajorVersion {
		return false
	}
	if filter.ResourceID != WildcardResource && filter.ResourceID != u.ResourceID {
		return false
	}
	return true
}

// WithAuthority returns a copy of u addressed to authority.
func (u URI) WithAuthority(authority string) URI {
	u.Authority = authority
	return u
}

// WithResource returns a copy of u with resource id r.
func (u URI) WithResource(r uint16) URI {
	u.ResourceID = r
	return u
}

// MarshalText implements encoding.TextMarshaler.
func (u URI) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *URI) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
