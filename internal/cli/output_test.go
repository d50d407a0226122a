package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/vietddude/conductor/internal/core/apperror"
)

func TestWriteErrorHidesCause(t *testing.T) {
	var buf bytes.Buffer
	writeError(&buf, fmt.Errorf("get tx: %w", errors.New("dial tcp 10.0.0.7:5432: connection refused")))

	if strings.Contains(buf.String(), "10.0.0.7") {
		t.Fatalf("raw cause leaked: %s", buf.String())
	}
	var resp apperror.Response
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success || !resp.Error.Retryable || !strings.HasPrefix(resp.Error.Code, apperror.KindNetwork.CodePrefix()) {
		t.Fatalf("response = %+v", resp)
	}
}
