package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ClassifyText(t *testing.T) {
	req := require.New(t)

	cases := map[string]MessageKind{
		"hello":                        KindText,
		"https://example.com":          KindLink,
		"http://example.com/a?b=c":     KindLink,
		"HTTPS://EXAMPLE.COM":          KindLink,
		"ftp://example.com":            KindText,
		"example.com":                  KindText,
		"http://":                      KindText,
		"just mentioning http please":  KindText,
		"mailto:someone@example.com":   KindText,
		"https://example.com and more": KindText,
	}
	for input, want := range cases {
		req.Equal(want, ClassifyText(input), "input: %q", input)
	}
}
