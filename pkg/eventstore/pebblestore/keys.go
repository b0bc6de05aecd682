package pebblestore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dyluth/drey/pkg/eventstore"
)

// Key layout:
//
//	e\x00{collection}\x00{seq:020d}   -> encoded event body
//	a\x00{project}\x00{collection}    -> attempt marker
//	m\x00seq                          -> last issued sequence number
//
// Zero-padded sequence numbers make byte order equal insertion order within a
// collection.
const (
	sep       = "\x00"
	seqDigits = 20
)

var (
	eventPrefix = []byte("e" + sep)
	seqKey      = []byte("m" + sep + "seq")
)

func eventKey(collection string, seq uint64) []byte {
	return []byte(fmt.Sprintf("e%s%s%s%0*d", sep, collection, sep, seqDigits, seq))
}

// collectionBounds returns the [lower, upper) range holding one collection.
func collectionBounds(collection string) ([]byte, []byte) {
	lower := []byte("e" + sep + collection + sep)
	upper := []byte("e" + sep + collection + "\x01")
	return lower, upper
}

func attemptKey(projectID, collection string) []byte {
	return []byte("a" + sep + projectID + sep + collection)
}

// splitEventKey returns the collection and sequence encoded in an event key.
func splitEventKey(key []byte) (string, uint64, bool) {
	raw, ok := strings.CutPrefix(string(key), string(eventPrefix))
	if !ok {
		return "", 0, false
	}
	idx := strings.LastIndex(raw, sep)
	if idx <= 0 || len(raw)-idx-1 != seqDigits {
		return "", 0, false
	}
	seq, err := strconv.ParseUint(raw[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return raw[:idx], seq, true
}

// Handles look like "{collection}#{seq:020d}".
func formatHandle(collection string, seq uint64) eventstore.Handle {
	return eventstore.Handle(fmt.Sprintf("%s#%0*d", collection, seqDigits, seq))
}

func parseHandle(h eventstore.Handle) ([]byte, bool) {
	raw := string(h)
	idx := strings.LastIndexByte(raw, '#')
	if idx <= 0 || len(raw)-idx-1 != seqDigits {
		return nil, false
	}
	collection := raw[:idx]
	if strings.Contains(collection, sep) {
		return nil, false
	}
	seq, err := strconv.ParseUint(raw[idx+1:], 10, 64)
	if err != nil {
		return nil, false
	}
	return eventKey(collection, seq), true
}
