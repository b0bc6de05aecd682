package redisstore

import "fmt"

const (
	fieldCollection = "collection"
	fieldBody       = "body"
)

// entryToHash converts a queued event to its Redis hash form.
func entryToHash(collection string, body []byte) map[string]interface{} {
	return map[string]interface{}{
		fieldCollection: collection,
		fieldBody:       string(body),
	}
}

// hashToEntry is the inverse of entryToHash.
func hashToEntry(hash map[string]string) (string, []byte, error) {
	collection, ok := hash[fieldCollection]
	if !ok || collection == "" {
		return "", nil, fmt.Errorf("event hash missing %s field", fieldCollection)
	}
	body, ok := hash[fieldBody]
	if !ok {
		return "", nil, fmt.Errorf("event hash missing %s field", fieldBody)
	}
	return collection, []byte(body), nil
}
