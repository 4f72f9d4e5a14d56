package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackagesSortedByPrice(t *testing.T) {
	pkgs := Packages()
	require.Len(t, pkgs, 3)
	assert.Equal(t, "starter", pkgs[0].ID)
	assert.Equal(t, "pro", pkgs[2].ID)
}

func TestLookupPackage(t *testing.T) {
	p, err := LookupPackage("standard")
	require.NoError(t, err)
	assert.EqualValues(t, 500, p.Credits)

	_, err = LookupPackage("platinum")
	assert.ErrorIs(t, err, ErrUnknownPackage)
}

func TestCost(t *testing.T) {
	c, err := Cost(OpExtract)
	require.NoError(t, err)
	assert.EqualValues(t, 10, c)

	_, err = Cost("translate")
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	header := Sign("whsec", body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		header string
		ok     bool
	}{
		{name: "valid", secret: "whsec", body: body, header: header, ok: true},
		{name: "tampered body", secret: "whsec", body: []byte(`{"id":"evt_2"}`), header: header},
		{name: "wrong secret", secret: "other", body: body, header: header},
		{name: "missing prefix", secret: "whsec", body: body, header: header[len("sha256="):]},
		{name: "not hex", secret: "whsec", body: body, header: "sha256=zz"},
		{name: "no secret configured", secret: "", body: body, header: header},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(tc.secret, tc.body, tc.header)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrBadSignature)
		})
	}
}
