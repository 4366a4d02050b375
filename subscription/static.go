package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/uri"
)

// StaticFile loads subscriptions from a JSON object whose keys are topic URIs
// and whose values are arrays of subscriber URIs:
//
//	{
//	  "//topic_authority/1236/1/8001": ["//subscriber_authority/1234/1/0"]
//	}
//
// Comments and trailing commas are accepted. Keys and elements that do not
// parse are skipped with a warning.
type StaticFile struct {
	path     string
	override *uint16
	logger   *slog.Logger
}

// StaticFileOption configures a StaticFile.
type StaticFileOption func(*StaticFile)

// WithResourceOverride rewrites the resource id of every topic key to r, so a
// file can list topics by entity and version only and still land on one
// well-known resource (uri.ResourceNotification in existing deployments).
func WithResourceOverride(r uint16) StaticFileOption {
	return func(s *StaticFile) {
		s.override = &r
	}
}

// WithFileLogger sets the logger used for skipped-entry warnings.
func WithFileLogger(logger *slog.Logger) StaticFileOption {
	return func(s *StaticFile) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStaticFile returns a Source reading path on every Load.
func NewStaticFile(path string, opts ...StaticFileOption) *StaticFile {
	s := &StaticFile{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *StaticFile) Name() string { return "file" }

// Path returns the file path.
func (s *StaticFile) Path() string { return s.path }

// Load implements Source. A missing file is NOT_FOUND, a file that is not a
// JSON object is INVALID_ARGUMENT.
func (s *StaticFile) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(
				fmt.Errorf("%w: %s", errors.ErrConfigNotFound, s.path),
				"StaticFile", "Load", "read subscription file")
		}
		return nil, errors.Internal(err, "StaticFile", "Load", "read subscription file")
	}

	snap, err := s.Parse(data)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Parse decodes file contents. It is exposed for sources that obtain the same
// format from elsewhere.
func (s *StaticFile) Parse(data []byte) (Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, errors.InvalidArgument(
			fmt.Errorf("%w: %s: %v", errors.ErrParsingFailed, s.path, err),
			"StaticFile", "Parse", "decode subscription file")
	}

	snap := make(Snapshot, len(raw))
	seen := make(map[uri.URI]map[uri.URI]struct{}, len(raw))
	skipped := 0

	for key, value := range raw {
		topic, err := uri.Parse(key)
		if err != nil {
			s.logger.Warn("Skipping subscription topic", "path", s.path, "topic", key, "error", err)
			skipped++
			continue
		}
		if s.override != nil {
			topic = topic.WithResource(*s.override)
		}

		var elems []json.RawMessage
		if err := json.Unmarshal(value, &elems); err != nil {
			s.logger.Warn("Skipping subscription topic with non-array value", "path", s.path, "topic", key)
			skipped++
			continue
		}

		if seen[topic] == nil {
			seen[topic] = make(map[uri.URI]struct{}, len(elems))
		}
		for _, elem := range elems {
			var text string
			if err := json.Unmarshal(elem, &text); err != nil {
				s.logger.Warn("Skipping non-string subscriber", "path", s.path, "topic", key, "value", string(elem))
				skipped++
				continue
			}
			sub, err := uri.Parse(text)
			if err != nil {
				s.logger.Warn("Skipping subscriber", "path", s.path, "topic", key, "subscriber", text, "error", err)
				skipped++
				continue
			}
			if _, dup := seen[topic][sub]; dup {
				continue
			}
			seen[topic][sub] = struct{}{}
			snap.Add(NewRecord(topic, sub))
		}
	}

	if skipped > 0 {
		s.logger.Warn("Subscription file had malformed entries", "path", s.path, "skipped", skipped)
	}
	return snap, nil
}
