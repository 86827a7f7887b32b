package mcp

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestRequireString(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"name": "laptop",
	}

	got, err := requireString(req, "name")
	if err != nil {
		t.Fatalf("requireString() error = %v", err)
	}
	if got != "laptop" {
		t.Errorf("requireString() = %q, want %q", got, "laptop")
	}

	if _, err := requireString(req, "missing"); err == nil {
		t.Error("requireString() should fail for a missing parameter")
	}
}

func TestOptionalInt(t *testing.T) {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]interface{}{
		"usage_limit": float64(5),
	}

	if got := optionalInt(req, "usage_limit", 0); got != 5 {
		t.Errorf("optionalInt() = %d, want 5", got)
	}
	if got := optionalInt(req, "missing", 7); got != 7 {
		t.Errorf("optionalInt() default = %d, want 7", got)
	}
}

func TestSuccessJSON(t *testing.T) {
	result, err := successJSON(map[string]interface{}{"ok": true})
	if err != nil {
		t.Fatalf("successJSON() error = %v", err)
	}
	if result.IsError {
		t.Error("successJSON() result should not be an error")
	}
	if len(result.Content) == 0 {
		t.Fatal("successJSON() result has no content")
	}
}

func TestToolError(t *testing.T) {
	result, err := toolError("key %q not found", "abc")
	if err != nil {
		t.Fatalf("toolError() should not return a Go error, got %v", err)
	}
	if !result.IsError {
		t.Error("toolError() result should be marked as an error")
	}
}

func TestBoolPtr(t *testing.T) {
	truePtr := boolPtr(true)
	if truePtr == nil {
		t.Fatal("boolPtr(true) returned nil")
	}
	if *truePtr != true {
		t.Errorf("*boolPtr(true) = %v, want true", *truePtr)
	}

	falsePtr := boolPtr(false)
	if falsePtr == nil {
		t.Fatal("boolPtr(false) returned nil")
	}
	if *falsePtr != false {
		t.Errorf("*boolPtr(false) = %v, want false", *falsePtr)
	}

	if truePtr == falsePtr {
		t.Error("boolPtr(true) and boolPtr(false) should return distinct pointers")
	}
}

func TestReadOnlyAnnotation(t *testing.T) {
	ann := readOnlyAnnotation()

	if ann.ReadOnlyHint == nil {
		t.Fatal("ReadOnlyHint should not be nil for readOnlyAnnotation")
	}
	if *ann.ReadOnlyHint != true {
		t.Errorf("ReadOnlyHint = %v, want true", *ann.ReadOnlyHint)
	}
}

func TestMutatingAnnotation(t *testing.T) {
	ann := mutatingAnnotation()

	if ann.ReadOnlyHint == nil {
		t.Fatal("ReadOnlyHint should not be nil for mutatingAnnotation")
	}
	if *ann.ReadOnlyHint != false {
		t.Errorf("ReadOnlyHint = %v, want false", *ann.ReadOnlyHint)
	}
}
