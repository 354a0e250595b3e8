package variables

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", []string{}},
		{"no tokens", "Hello world", []string{}},
		{"stray braces", "{ a } and }} then {{", []string{}},
		{"empty name", "{{}} and {{ }}", []string{}},
		{"inner whitespace", "{{first name}}", []string{}},
		{"single", "Hi {{name}}", []string{"name"}},
		{"padded", "Hi {{  name\t}}", []string{"name"}},
		{"two names", "Hello {{name}}, your code is {{code}}", []string{"name", "code"}},
		{"duplicate", "{{a}} and {{a}} again", []string{"a"}},
		{"first occurrence order", "{{b}} {{a}} {{b}} {{c}} {{a}}", []string{"b", "a", "c"}},
		{"dotted", "{{user.email}}", []string{"user.email"}},
		{"unicode", "Olá {{nome_do_usuário}}", []string{"nome_do_usuário"}},
		{"triple braces", "{{{name}}}", []string{"name"}},
		{"html attribute", `<a href="{{link}}">{{label}}</a>`, []string{"link", "label"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.input)
			if got == nil {
				t.Fatal("Extract() returned nil")
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestExtractMatchesFirstOccurrence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	names := []string{"a", "b", "code", "link", "nome"}
	pads := []string{"", " ", "  ", "\t"}
	fillers := []string{"", "text ", "{ ", "} ", "{{ }} ", "<p>"}

	for i := 0; i < 200; i++ {
		var b strings.Builder
		var want []string
		seen := map[string]bool{}

		n := rng.Intn(12)
		for j := 0; j < n; j++ {
			b.WriteString(fillers[rng.Intn(len(fillers))])
			name := names[rng.Intn(len(names))]
			b.WriteString("{{" + pads[rng.Intn(len(pads))] + name + pads[rng.Intn(len(pads))] + "}}")
			if !seen[name] {
				seen[name] = true
				want = append(want, name)
			}
		}

		input := b.String()
		got := Extract(input)
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("Extract(%q) mismatch (-want +got):\n%s", input, diff)
		}
	}
}

func TestExtractAll(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		html    string
		text    string
		want    []string
	}{
		{
			name:    "subject then html",
			subject: "Bem-vindo {{nome}}",
			html:    "<p>{{nome}}, acesse {{link}}</p>",
			text:    "",
			want:    []string{"nome", "link"},
		},
		{
			name:    "text adds new names last",
			subject: "Order {{order_id}}",
			html:    "<p>Total {{total}}</p>",
			text:    "Hi {{name}}, order {{order_id}} total {{total}}",
			want:    []string{"order_id", "total", "name"},
		},
		{
			name:    "html order wins over text",
			subject: "Hello",
			html:    "{{b}} {{a}}",
			text:    "{{a}} {{b}}",
			want:    []string{"b", "a"},
		},
		{
			name: "all empty",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAll(tt.subject, tt.html, tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractAll() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokens(t *testing.T) {
	input := "Hi {{ name }}, use {{code}}"
	seq := Tokens(input)

	var first []Token
	for tok := range seq {
		first = append(first, tok)
	}
	var second []Token
	for tok := range seq {
		second = append(second, tok)
	}

	want := []Token{
		{Name: "name", Raw: "{{ name }}", Start: 3, End: 13},
		{Name: "code", Raw: "{{code}}", Start: 19, End: 27},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("Tokens() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Tokens() not restartable (-first +second):\n%s", diff)
	}

	count := 0
	for range seq {
		count++
		break
	}
	if count != 1 {
		t.Errorf("early break yielded %d tokens, want 1", count)
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name    string
		content string
		values  map[string]string
		want    string
	}{
		{"resolved", "Hi {{name}}", map[string]string{"name": "Ana"}, "Hi Ana"},
		{"missing left literal", "Hi {{name}}", map[string]string{}, "Hi {{name}}"},
		{"nil map", "Hi {{name}}", nil, "Hi {{name}}"},
		{"empty value left literal", "Hi {{ name }}", map[string]string{"name": ""}, "Hi {{ name }}"},
		{"padded token", "Hi {{  name }}!", map[string]string{"name": "Ana"}, "Hi Ana!"},
		{"every occurrence", "{{a}}-{{a}}-{{ a }}", map[string]string{"a": "x"}, "x-x-x"},
		{"partial", "{{a}} {{b}}", map[string]string{"a": "1"}, "1 {{b}}"},
		{"unused keys", "plain text", map[string]string{"a": "1"}, "plain text"},
		{"no html escaping", "<p>{{body}}</p>", map[string]string{"body": "<b>&</b>"}, "<p><b>&</b></p>"},
		{"values not rescanned", "{{a}} {{b}}", map[string]string{"a": "{{b}}", "b": "B"}, "{{b}} B"},
		{"invalid tokens untouched", "{{first name}} {{ }}", map[string]string{"first": "x"}, "{{first name}} {{ }}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Substitute(tt.content, tt.values)
			if got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestSubstituteFixedPoint(t *testing.T) {
	tests := []struct {
		content string
		values  map[string]string
	}{
		{"Hi {{name}}", map[string]string{"name": "Ana"}},
		{"Hello {{name}}, your code is {{code}}", map[string]string{"name": "Bo", "code": "1234"}},
		{"<p>{{ nome }}, acesse {{link}}</p>", map[string]string{"nome": "Rui", "link": "https://x.test"}},
		{"no tokens", map[string]string{"x": "y"}},
	}

	for _, tt := range tests {
		once := Substitute(tt.content, tt.values)
		if got := Extract(once); len(got) != 0 {
			t.Fatalf("Substitute(%q) left tokens %v", tt.content, got)
		}
		if twice := Substitute(once, tt.values); twice != once {
			t.Errorf("second Substitute(%q) = %q, want %q", tt.content, twice, once)
		}
	}
}

func TestSubstituteUnresolvedStable(t *testing.T) {
	content := "{{a}} {{ b }} {{c}} {{a}}"
	values := map[string]string{"c": "C"}

	once := Substitute(content, values)
	twice := Substitute(once, values)

	if twice != once {
		t.Errorf("second Substitute() = %q, want %q", twice, once)
	}
	if diff := cmp.Diff(Missing(content, values), Missing(once, values)); diff != "" {
		t.Errorf("unresolved names changed (-before +after):\n%s", diff)
	}
}

func TestSubstituteFunc(t *testing.T) {
	got := SubstituteFunc("Hi {{name}}, {{ code }}", func(name, raw string) string {
		if name == "name" {
			return raw
		}
		return Placeholder(name)
	})
	want := "Hi {{name}}, [code]"
	if got != want {
		t.Errorf("SubstituteFunc() = %q, want %q", got, want)
	}
}

func TestMissing(t *testing.T) {
	tests := []struct {
		name    string
		content string
		values  map[string]string
		want    []string
	}{
		{"all missing", "{{a}} {{b}} {{a}}", nil, []string{"a", "b"}},
		{"one bound", "{{a}} {{b}} {{a}}", map[string]string{"b": "x"}, []string{"a"}},
		{"empty counts as missing", "{{a}}", map[string]string{"a": ""}, []string{"a"}},
		{"none missing", "{{a}}", map[string]string{"a": "1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Missing(tt.content, tt.values)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Missing() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	if got := Placeholder("name"); got != "[name]" {
		t.Errorf("Placeholder() = %q, want [name]", got)
	}
}
