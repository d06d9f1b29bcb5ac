package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMessage(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"plain", "I'm at the main gate", nil},
		{"cyrillic", "Жду у главного входа", nil},
		{"empty", "", ErrEmptyMessage},
		{"whitespace", "  \n\t", ErrEmptyMessage},
		{"too many bytes", strings.Repeat("a", MaxMessageBytes+1), ErrMessageTooLong},
		{"too many runes", strings.Repeat("я", MaxTextChars+1), ErrMessageTooLong},
		{"invalid utf8", "bad \xff byte", ErrInvalidUTF8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMessage(tc.text)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
