// Copyright 2026 © The Gaffer Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gafferhq/gaffer/pkg/llm"
)

func TestProviderImplementsInterface(t *testing.T) {
	var _ llm.Provider = (*Provider)(nil)
}

func TestNewProvider(t *testing.T) {
	p := New()
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "gpt-5-mini" {
		t.Errorf("expected model gpt-5-mini, got %s", p.model)
	}
}

func TestWithModel(t *testing.T) {
	p := New(WithModel("gpt-4-turbo"))
	if p.model != "gpt-4-turbo" {
		t.Errorf("expected model gpt-4-turbo, got %s", p.model)
	}
}

func TestBaseURLAndAPIKeyCombine(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL+"/"))
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected key to survive base URL option, got authorization %q", gotAuth)
	}
}
