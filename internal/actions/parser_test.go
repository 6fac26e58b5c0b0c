package actions

import "testing"

func TestParse_SingleAction(t *testing.T) {
	p := New()
	actions, err := p.Parse("Reading... <enhanced_read>/tmp/x.txt:true:10</enhanced_read> done")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d: %+v", len(actions), actions)
	}
	if actions[0].Name != "enhanced_read" {
		t.Errorf("Name = %q, want enhanced_read", actions[0].Name)
	}
	if actions[0].Payload != "/tmp/x.txt:true:10" {
		t.Errorf("Payload = %q", actions[0].Payload)
	}
}

func TestParse_CaseInsensitive(t *testing.T) {
	p := New()
	actions, err := p.Parse("<EXECUTE>echo hi</EXECUTE>")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(actions) != 1 || actions[0].Name != "execute" {
		t.Fatalf("expected canonical lowercase execute action, got %+v", actions)
	}
}

func TestParse_UnknownTagIgnored(t *testing.T) {
	p := New()
	actions, err := p.Parse("<bogus>stuff</bogus><search>query</search>")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(actions) != 1 || actions[0].Name != "search" {
		t.Fatalf("expected only the known search action, got %+v", actions)
	}
}

func TestParse_UnclosedTagIgnored(t *testing.T) {
	p := New()
	actions, err := p.Parse("<search>query with no close")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no actions for an unclosed tag, got %+v", actions)
	}
}

func TestParse_DuplicateTagsInOrder(t *testing.T) {
	p := New()
	actions, err := p.Parse("<search>a</search><search>b</search>")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(actions) != 2 || actions[0].Payload != "a" || actions[1].Payload != "b" {
		t.Fatalf("expected ordered duplicate actions, got %+v", actions)
	}
}

func TestContainsCompleteAction(t *testing.T) {
	p := New()
	if !p.ContainsCompleteAction("prefix <search>q</search>") {
		t.Error("expected a complete action to be detected")
	}
	if p.ContainsCompleteAction("prefix <search>q") {
		t.Error("did not expect an incomplete tag to be detected")
	}
}

func TestStripIncompleteTags(t *testing.T) {
	p := New()
	in := "Reading... <enhanced_read>/tmp/x.txt:true:10</enhanced_read> done <enhanced_w"
	out := p.StripIncompleteTags(in)
	want := "Reading... <enhanced_read>/tmp/x.txt:true:10</enhanced_read> done "
	if out != want {
		t.Errorf("StripIncompleteTags = %q, want %q", out, want)
	}
}

func TestStripIncompleteTags_NoTrailingPartial(t *testing.T) {
	p := New()
	in := "Reading... <enhanced_read>/tmp/x.txt:true:10</enhanced_read>"
	if out := p.StripIncompleteTags(in); out != in {
		t.Errorf("StripIncompleteTags = %q, want unchanged %q", out, in)
	}
}

func TestParse_PayloadTooLarge(t *testing.T) {
	p := New()
	big := make([]byte, MaxPayloadBytes+10)
	for i := range big {
		big[i] = 'a'
	}
	_, err := p.Parse("<search>" + string(big) + "</search>")
	if err == nil {
		t.Fatal("expected an error for an oversized payload")
	}
}
