package asset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	ok := Asset{URL: "http://cdn/a.png", SecureURL: "https://cdn/a.png", Kind: KindImage}
	require.NoError(t, ok.Validate(KindImage))
	assert.Equal(t, "https://cdn/a.png", ok.Href())

	cases := map[string]Asset{
		"missing url":  {Kind: KindImage},
		"unknown kind": {URL: "u", Kind: "video"},
		"wrong kind":   {URL: "u", Kind: KindPDF},
		"neg bytes":    {URL: "u", Kind: KindImage, Bytes: -1},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			err := a.Validate(KindImage)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}
