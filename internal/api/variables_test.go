package api

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHandleExtract(t *testing.T) {
	ts := setupTestServer(t, nil, nil)

	var resp ExtractResponse
	rec := ts.do(t, http.MethodPost, "/api/v1/variables/extract", ExtractRequest{
		Subject: "Bem-vindo {{nome}}",
		HTML:    "<p>{{nome}}, acesse {{link}}</p>",
		Text:    "{{}} {{ }} {{ codigo }}",
	}, &resp)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if diff := cmp.Diff([]string{"nome", "link", "codigo"}, resp.Variables); diff != "" {
		t.Errorf("variables mismatch (-want +got):\n%s", diff)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/variables/extract", ExtractRequest{Text: "plain"}, &resp)
	if rec.Code != http.StatusOK || resp.Variables == nil || len(resp.Variables) != 0 {
		t.Errorf("empty extract = %v (status %d), want []", resp.Variables, rec.Code)
	}
}

func TestHandleSubstitute(t *testing.T) {
	ts := setupTestServer(t, nil, nil)

	tests := []struct {
		name        string
		req         SubstituteRequest
		wantContent string
		wantMissing []string
	}{
		{
			name:        "all bound",
			req:         SubstituteRequest{Content: "Olá {{ nome }}", Values: map[string]string{"nome": "Ana"}},
			wantContent: "Olá Ana",
			wantMissing: []string{},
		},
		{
			name:        "missing and empty values stay literal",
			req:         SubstituteRequest{Content: "{{a}} {{b}}", Values: map[string]string{"a": ""}},
			wantContent: "{{a}} {{b}}",
			wantMissing: []string{"a", "b"},
		},
		{
			name:        "values are not rescanned",
			req:         SubstituteRequest{Content: "{{a}}", Values: map[string]string{"a": "{{b}}", "b": "B"}},
			wantContent: "{{b}}",
			wantMissing: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp SubstituteResponse
			rec := ts.do(t, http.MethodPost, "/api/v1/variables/substitute", tt.req, &resp)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if resp.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", resp.Content, tt.wantContent)
			}
			if diff := cmp.Diff(tt.wantMissing, resp.Missing); diff != "" {
				t.Errorf("missing mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
