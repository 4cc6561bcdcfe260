// File: cmd/output.go
package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonOut = jsoniter.ConfigCompatibleWithStandardLibrary

// printJSON renders command output as indented JSON on the given writer.
func printJSON(w io.Writer, v any) error {
	data, err := jsonOut.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
