package schedd

import (
	"reflect"
	"strings"
	"testing"
)

func TestDescription_OrderAndCase(t *testing.T) {
	d := NewDescription().
		Set("Executable", "/bin/echo").
		Set("arguments", `"hello"`).
		Set("LOG", "/tmp/j.log")
	d.Set("executable", "/bin/true")

	if got := d.Keys(); !reflect.DeepEqual(got, []string{"executable", "arguments", "log"}) {
		t.Errorf("Keys() = %v", got)
	}
	if v, _ := d.Get("EXECUTABLE"); v != "/bin/true" {
		t.Errorf("executable = %q, want /bin/true", v)
	}

	want := "executable = /bin/true\narguments = \"hello\"\nlog = /tmp/j.log\nqueue 1\n"
	if got := d.String(); got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
}

func TestDescription_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    *Description
		wantErr string
	}{
		{"ok", NewDescription().Set(KeyExecutable, "/bin/true").Set(KeyLog, "j.log"), ""},
		{"no executable", NewDescription().Set(KeyLog, "j.log"), "executable is required"},
		{"no log", NewDescription().Set(KeyExecutable, "/bin/true"), "log is required"},
		{"blank executable", NewDescription().Set(KeyExecutable, "  ").Set(KeyLog, "j.log"), "executable is required"},
		{"newline", NewDescription().Set(KeyExecutable, "/bin/true").Set(KeyLog, "j.log").Set(KeyArguments, "a\nqueue 5"), "newline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestQuoteArguments(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"a", "b"}, `"a b"`},
		{[]string{"hello world"}, `"'hello world'"`},
		{[]string{"it's"}, `"'it''s'"`},
		{[]string{`say "hi"`}, `"'say ""hi""'"`},
		{[]string{""}, `"''"`},
		{nil, `""`},
	}
	for _, tt := range tests {
		if got := QuoteArguments(tt.args); got != tt.want {
			t.Errorf("QuoteArguments(%q) = %s, want %s", tt.args, got, tt.want)
		}
	}
}

func TestSplitArguments_InvertsQuoting(t *testing.T) {
	cases := [][]string{
		{"a", "b"},
		{"hello world", "x"},
		{"it's", "fine"},
		{`say "hi"`},
		{"", "after-empty"},
		{"/data/in.txt", "--flag=1"},
	}
	for _, args := range cases {
		got, err := SplitArguments(QuoteArguments(args))
		if err != nil {
			t.Fatalf("SplitArguments(%q): %v", QuoteArguments(args), err)
		}
		if !reflect.DeepEqual(got, args) {
			t.Errorf("SplitArguments(QuoteArguments(%q)) = %q", args, got)
		}
	}
}

func TestSplitArguments_OldSyntax(t *testing.T) {
	got, err := SplitArguments("uid-1  input.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"uid-1", "input.txt"}) {
		t.Errorf("got %q", got)
	}
	if _, err := SplitArguments(`"unterminated 'quote"`); err == nil {
		t.Error("expected error for unterminated single quote")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a.txt, b.txt,,c.txt ")
	if !reflect.DeepEqual(got, []string{"a.txt", "b.txt", "c.txt"}) {
		t.Errorf("SplitList = %q", got)
	}
	if JoinList(got) != "a.txt, b.txt, c.txt" {
		t.Errorf("JoinList = %q", JoinList(got))
	}
}

func TestParseAction(t *testing.T) {
	for name, want := range map[string]Action{"hold": ActionHold, "Release": ActionRelease, "rm": ActionRemove, "remove": ActionRemove} {
		got, err := ParseAction(name)
		if err != nil || got != want {
			t.Errorf("ParseAction(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseAction("suspend"); err == nil {
		t.Error("expected error for unknown action")
	}
}
