package embedding

import (
	"reflect"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS || ids[3] != tokenSEP {
		t.Errorf("expected CLS at 0 and SEP at 3, got %v", ids)
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention mask = %v", attn)
	}
	again, _, _ := tok.Tokenize("Hello, WORLD!", 10)
	if !reflect.DeepEqual(ids, again) {
		t.Error("tokens should ignore case and punctuation")
	}
}

func TestSimpleTokenizer_truncates(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len = %d", len(ids))
	}
	if ids[3] != tokenSEP || attn[3] != 1 {
		t.Errorf("expected SEP in last slot, got %v", ids)
	}
}

func TestTerms(t *testing.T) {
	got := Terms("  What is Alpha?  Beta-2 ")
	want := []string{"what", "is", "alpha", "beta", "2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms = %v, want %v", got, want)
	}
	if len(Terms("")) != 0 {
		t.Error("empty string should have no terms")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("expected different hashes")
	}
	if HashString("a very long string that would overflow a naive polynomial hash") < 0 {
		t.Error("hash should be non-negative")
	}
}
