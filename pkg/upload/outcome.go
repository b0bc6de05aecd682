package upload

import (
	"github.com/bytedance/sonic"
)

// eventResult is one entry of the service's per-collection outcome list:
//
//	{"success": false, "error": {"name": "...", "description": "..."}}
type eventResult struct {
	Success     bool
	Name        string
	Description string
}

// parseResponse decodes the outcome body into raw per-collection values. The
// collections themselves are checked lazily so one malformed list does not
// spoil the others.
func parseResponse(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := sonic.ConfigStd.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errMalformedCollection
	}
	return raw, nil
}

// parseCollection converts one collection's outcome list. It fails unless the
// value is a list of objects carrying a boolean "success".
func parseCollection(v any) ([]eventResult, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}

	results := make([]eventResult, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		success, ok := obj["success"].(bool)
		if !ok {
			return nil, false
		}
		results[i].Success = success
		if success {
			continue
		}

		if errObj, ok := obj["error"].(map[string]any); ok {
			results[i].Name, _ = errObj["name"].(string)
			results[i].Description, _ = errObj["description"].(string)
		}
	}
	return results, true
}
