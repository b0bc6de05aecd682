package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
)

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// readEventArg decodes the JSON object given on the command line. "-" reads
// it from in.
func readEventArg(arg string, in io.Reader) (map[string]any, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(in); err != nil {
			return nil, fmt.Errorf("failed to read event from stdin: %w", err)
		}
	}

	var event map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("event must be a JSON object: %w", err)
	}
	if event == nil {
		return nil, fmt.Errorf("event must be a JSON object, got null")
	}
	return event, nil
}
