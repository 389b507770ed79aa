package table

import "testing"

func TestValidateTableNameRejectsPathSeparators(t *testing.T) {
	cases := []string{"", "a/b", "a\\b", "a\x00b"}
	for _, name := range cases {
		if err := validateTableName(name); err == nil {
			t.Errorf("validateTableName(%q): want error", name)
		}
	}
}

func TestValidateTableNameAcceptsOrdinaryNames(t *testing.T) {
	if err := validateTableName("users"); err != nil {
		t.Errorf("validateTableName(users): %v", err)
	}
}

func TestValidateKeyRejectsWhitespace(t *testing.T) {
	cases := []string{"", "a b", "a\nb"}
	for _, key := range cases {
		if err := validateKey(key); err == nil {
			t.Errorf("validateKey(%q): want error", key)
		}
	}
}

func TestValidateKeyAcceptsOrdinaryKeys(t *testing.T) {
	if err := validateKey("user:42"); err != nil {
		t.Errorf("validateKey(user:42): %v", err)
	}
}
