package natsbus

import (
	"fmt"
	"strings"

	"github.com/c360/ustreamer/transport"
	"github.com/c360/ustreamer/uri"
)

// DefaultPrefix is the first subject token of every bus message.
const DefaultPrefix = "up"

// noSink marks an unaddressed message.
const noSink = "_"

// emptyAuthority stands in for a local URI with no authority.
const emptyAuthority = "-"

var authorityEscaper = strings.NewReplacer(
	"%", "%25",
	".", "%2E",
	"*", "%2A",
	">", "%3E",
	" ", "%20",
)

func authorityToken(a string) string {
	if a == "" {
		return emptyAuthority
	}
	return authorityEscaper.Replace(a)
}

func uriTokens(u uri.URI) string {
	return fmt.Sprintf("%s.%X.%X.%X", authorityToken(u.Authority), u.EntityID, u.MajorVersion, u.ResourceID)
}

// filterTokens maps wildcard fields to '*'. A partial entity wildcard that
// pins instance bits is also '*'; Filter.Matches narrows it after delivery.
func filterTokens(u uri.URI) string {
	auth := "*"
	if u.Authority != uri.WildcardAuthority {
		auth = authorityToken(u.Authority)
	}
	entity := "*"
	if u.EntityID&0xFFFF != uri.WildcardEntityID {
		entity = fmt.Sprintf("%X", u.EntityID)
	}
	version := "*"
	if u.MajorVersion != uri.WildcardVersion {
		version = fmt.Sprintf("%X", u.MajorVersion)
	}
	resource := "*"
	if u.ResourceID != uri.WildcardResource {
		resource = fmt.Sprintf("%X", u.ResourceID)
	}
	return strings.Join([]string{auth, entity, version, resource}, ".")
}

// Subject returns the subject a message from source to sink is published on:
//
//	<prefix>.<source authority>.<entity>.<version>.<resource>.<sink tokens or _>
func Subject(prefix string, source uri.URI, sink *uri.URI) string {
	if sink == nil {
		return prefix + "." + uriTokens(source) + "." + noSink
	}
	return prefix + "." + uriTokens(source) + "." + uriTokens(*sink)
}

// FilterSubject returns the subscription subject covering every message f
// can match. The sink is not encoded since unaddressed messages must pass
// any sink filter.
func FilterSubject(prefix string, f transport.Filter) string {
	return prefix + "." + filterTokens(f.Source) + ".>"
}
