package streamer

import (
	"fmt"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/transport"
)

// Endpoint is a transport together with the authority it represents. It is
// a value; copies share the transport.
type Endpoint struct {
	// Name identifies the endpoint in rule names, logs and metrics.
	Name      string
	Authority string
	Transport transport.Transport
	// RewriteAuthority makes messages forwarded to this endpoint carry its
	// authority as their source authority.
	RewriteAuthority bool
}

// NewEndpoint returns a validated endpoint.
func NewEndpoint(name, authority string, t transport.Transport, rewrite bool) (Endpoint, error) {
	e := Endpoint{Name: name, Authority: authority, Transport: t, RewriteAuthority: rewrite}
	if err := e.Validate(); err != nil {
		return Endpoint{}, err
	}
	return e, nil
}

// Validate checks that the endpoint can take part in a rule.
func (e Endpoint) Validate() error {
	switch {
	case e.Name == "":
		return errors.InvalidArgument(fmt.Errorf("%w: endpoint name is required", errors.ErrInvalidConfig),
			"Endpoint", "Validate", "check name")
	case e.Authority == "":
		return errors.InvalidArgument(fmt.Errorf("%w: endpoint %s has no authority", errors.ErrInvalidConfig, e.Name),
			"Endpoint", "Validate", "check authority")
	case e.Transport == nil:
		return errors.InvalidArgument(fmt.Errorf("%w: endpoint %s has no transport", errors.ErrInvalidConfig, e.Name),
			"Endpoint", "Validate", "check transport")
	}
	return nil
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, e.Authority)
}
