package cli

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/vietddude/conductor/internal/core/apperror"
)

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// writeError prints the caller-facing envelope for err. Raw error text only
// goes to the log.
func writeError(w io.Writer, err error) {
	writeJSON(w, apperror.FormatError(err))
}

func exitWithError(msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(os.Stdout, err)
	os.Exit(1)
}
