package commands

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/keepkey/hostcore/internal/proto"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	if err := w.Close(); err != nil {
		t.Fatalf("close pipe writer: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read pipe: %v", err)
	}
	return string(out)
}

func TestPrintResponseJSONFormat(t *testing.T) {
	prevFormat := outputFormat
	outputFormat = formatJSON
	defer func() { outputFormat = prevFormat }()

	success := proto.Success{Message: "ack"}
	out := captureStdout(t, func() {
		if err := printResponse(proto.MessageIDSuccess, success.Marshal()); err != nil {
			t.Fatalf("printResponse: %v", err)
		}
	})

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, out)
	}
	if decoded["type"] != "Success" {
		t.Fatalf("got type %v, want Success", decoded["type"])
	}
	fields, ok := decoded["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields is not an object: %v", decoded["fields"])
	}
	if fields["message"] != "ack" {
		t.Fatalf("got message %v, want ack", fields["message"])
	}
}

func TestPrintResponseTableFormatIncludesFailureCodeName(t *testing.T) {
	prevFormat := outputFormat
	outputFormat = formatTable
	defer func() { outputFormat = prevFormat }()

	failure := proto.Failure{Code: proto.FailureNotInitialized, Text: "not initialized"}
	out := captureStdout(t, func() {
		if err := printResponse(proto.MessageIDFailure, failure.Marshal()); err != nil {
			t.Fatalf("printResponse: %v", err)
		}
	})

	if !strings.Contains(out, "Failure") || !strings.Contains(out, "NotInitialized") {
		t.Fatalf("table output missing expected content: %s", out)
	}
}

func TestPrintResponseUnknownIDHexDumpsBody(t *testing.T) {
	prevFormat := outputFormat
	outputFormat = formatTable
	defer func() { outputFormat = prevFormat }()

	body := []byte{0xde, 0xad, 0xbe, 0xef}
	out := captureStdout(t, func() {
		if err := printResponse(proto.MessageID(9999), body); err != nil {
			t.Fatalf("printResponse: %v", err)
		}
	})

	if !strings.Contains(out, "deadbeef") {
		t.Fatalf("expected hex dump of unknown body, got: %s", out)
	}
}
