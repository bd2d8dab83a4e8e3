package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

type greetArgs struct {
	Name  string `json:"name" jsonschema:"description=Who to greet"`
	Times int    `json:"times,omitempty"`
}

func TestFunctionToolSchema(t *testing.T) {
	tool := NewFunctionTool("greet", "greet someone", func(ctx context.Context, a greetArgs) (string, error) {
		return "hi " + a.Name, nil
	})

	schema := tool.Metadata().InputSchema()
	if schema["type"] != "object" {
		t.Errorf("expected object schema, got %v", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("expected $schema to be stripped")
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok || props["name"] == nil || props["times"] == nil {
		t.Fatalf("unexpected properties: %v", schema["properties"])
	}
	required := requiredNames(schema)
	if len(required) != 1 || required[0] != "name" {
		t.Errorf("expected only name to be required, got %v", required)
	}
}

func TestFunctionToolExecute(t *testing.T) {
	tool := NewFunctionTool("greet", "greet someone", func(ctx context.Context, a greetArgs) (string, error) {
		if a.Name == "" {
			return "", fmt.Errorf("name is required")
		}
		return "hi " + a.Name, nil
	})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"name":"ada"}`))
	if err != nil || !result.Success() || result.Output != "hi ada" {
		t.Errorf("unexpected result: %+v, %v", result, err)
	}

	result, _ = tool.Execute(context.Background(), json.RawMessage(`{}`))
	if result.Success() {
		t.Error("expected handler error to become a failed result")
	}
}

func TestFunctionToolUnnamedArgs(t *testing.T) {
	tool := NewFunctionTool("ping", "no arguments", func(ctx context.Context, _ struct{}) (string, error) {
		return "pong", nil
	})

	schema := tool.Metadata().InputSchema()
	if schema["type"] != "object" {
		t.Errorf("expected object schema, got %v", schema)
	}
	if _, ok := schema["properties"].(map[string]interface{}); !ok {
		t.Errorf("expected empty properties, got %v", schema["properties"])
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil || !result.Success() || result.Output != "pong" {
		t.Errorf("unexpected result: %+v, %v", result, err)
	}

	inline := NewFunctionTool("say", "anonymous struct", func(ctx context.Context, a struct {
		Text string `json:"text"`
	}) (string, error) {
		return a.Text, nil
	})
	props, _ := inline.Metadata().InputSchema()["properties"].(map[string]interface{})
	if props["text"] == nil {
		t.Errorf("expected text property for anonymous struct, got %v", props)
	}
}

func requiredNames(schema map[string]interface{}) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = req
	case []interface{}:
		for _, r := range req {
			out = append(out, r.(string))
		}
	}
	return out
}
