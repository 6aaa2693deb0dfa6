package ascii

import "testing"

func TestIsVChar(t *testing.T) {
	for c := 0; c < 256; c++ {
		want := c >= 0x21 && c <= 0x7E
		if got := IsVChar(byte(c)); got != want {
			t.Errorf("IsVChar(%#x) = %v, want %v", c, got, want)
		}
	}
}

func TestIsDelim(t *testing.T) {
	delims := "(),/:;<=>?@[\\]{}"
	for _, c := range []byte(delims) {
		if !IsDelim(c) {
			t.Errorf("IsDelim(%q) = false, want true", c)
		}
	}
	for _, c := range []byte("abcXYZ019-_.!") {
		if IsDelim(c) {
			t.Errorf("IsDelim(%q) = true, want false", c)
		}
	}
}

func TestIsHorizontalWhitespace(t *testing.T) {
	if !IsHorizontalWhitespace(' ') || !IsHorizontalWhitespace('\t') {
		t.Fatal("space and tab must be horizontal whitespace")
	}
	if IsHorizontalWhitespace('\r') || IsHorizontalWhitespace('\n') || IsHorizontalWhitespace('a') {
		t.Fatal("only space and tab are horizontal whitespace")
	}
}

func TestIsTChar(t *testing.T) {
	if !IsTChar('A') || !IsTChar('9') || !IsTChar('-') {
		t.Error("expected tchar for alnum/hyphen")
	}
	if IsTChar(':') || IsTChar('(') || IsTChar(' ') {
		t.Error("delimiters and whitespace must not be tchar")
	}
}
