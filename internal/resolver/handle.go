// Package resolver maps the handle prefixes typed on the command line to
// stored event handles.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/drey/pkg/eventstore"
)

// MinPrefixLength is the shortest prefix accepted when the input is not an
// exact handle.
const MinPrefixLength = 4

// maxListed bounds FormatAmbiguousError output.
const maxListed = 10

// Match is a resolved handle and the collection it is queued in.
type Match struct {
	Handle     eventstore.Handle
	Collection string
}

// ResolveHandle finds the single live handle equal to, or starting with,
// prefix. An exact match always wins, even if it is also a prefix of other
// handles.
func ResolveHandle(ctx context.Context, store eventstore.Store, prefix string) (Match, error) {
	if prefix == "" {
		return Match{}, errors.New("handle cannot be empty")
	}

	all, err := store.Handles(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("failed to list queued events: %w", err)
	}

	var matches []Match
	for collection, handles := range all {
		for _, h := range handles {
			if string(h) == prefix {
				return Match{Handle: h, Collection: collection}, nil
			}
			if strings.HasPrefix(string(h), prefix) {
				matches = append(matches, Match{Handle: h, Collection: collection})
			}
		}
	}

	if len(prefix) < MinPrefixLength {
		if len(matches) == 0 {
			return Match{}, &NotFoundError{Prefix: prefix}
		}
		return Match{}, fmt.Errorf("handle prefix must be at least %d characters (got %d)", MinPrefixLength, len(prefix))
	}

	switch len(matches) {
	case 0:
		return Match{}, &NotFoundError{Prefix: prefix}
	case 1:
		return matches[0], nil
	default:
		sort.Slice(matches, func(i, j int) bool { return matches[i].Handle < matches[j].Handle })
		return Match{}, &AmbiguousError{Prefix: prefix, Matches: matches}
	}
}

// NotFoundError indicates no queued event matched the prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no queued events found matching '%s'", e.Prefix)
}

// AmbiguousError indicates several queued events matched the prefix.
type AmbiguousError struct {
	Prefix  string
	Matches []Match
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous handle '%s' matches %d events", e.Prefix, len(e.Matches))
}

// FormatAmbiguousError lists the candidates, at most ten of them.
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous handle '%s' matches %d events:\n", err.Prefix, len(err.Matches))

	for i, m := range err.Matches {
		if i == maxListed {
			fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-maxListed)
			break
		}
		fmt.Fprintf(&b, "  %s (%s)\n", m.Handle, m.Collection)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the event.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}
