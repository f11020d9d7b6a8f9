package terminal

import (
	"sort"
	"strings"
	"testing"
)

func TestComplete(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		c := term.complete("break com.example.Main.w")
		if len(c) != 1 || c[0] != "break com.example.Main.work(IJ)V" {
			t.Fatalf("unexpected completions %q", c)
		}
		c = term.complete("clear com.example.Worker.")
		if len(c) != 1 || c[0] != "clear com.example.Worker.run()V" {
			t.Fatalf("unexpected completions %q", c)
		}
		c = term.complete("b com.example.Nope")
		if len(c) != 0 {
			t.Fatalf("unexpected completions %q", c)
		}
		c = term.complete("RE")
		sort.Strings(c)
		if strings.Join(c, " ") != "receiver redefine resume" {
			t.Fatalf("unexpected completions %q", c)
		}
	})
}

func TestPrintln(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.redirect()
		term.Println("> ", "event")
		if out.String() != "> event\n" {
			t.Fatalf("unexpected output %q", out.String())
		}
		term.dumb = false
		out = term.redirect()
		term.Println("> ", "event")
		if out.String() != "\033[33m> \033[0mevent\n" {
			t.Fatalf("unexpected output %q", out.String())
		}
	})
}
