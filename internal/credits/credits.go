// Package credits holds the fixed top-up catalog, per-operation prices and
// payment webhook verification. Balances themselves live in the store.
package credits

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

var (
	ErrUnknownPackage   = errors.New("unknown credit package")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrBadSignature     = errors.New("invalid webhook signature")
)

type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"priceCents"`
}

var catalog = map[string]Package{
	"starter":  {ID: "starter", Name: "Starter", Credits: 100, PriceCents: 500},
	"standard": {ID: "standard", Name: "Standard", Credits: 500, PriceCents: 2000},
	"pro":      {ID: "pro", Name: "Pro", Credits: 2000, PriceCents: 6000},
}

// Packages lists the catalog, cheapest first.
func Packages() []Package {
	out := make([]Package, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out
}

func LookupPackage(id string) (Package, error) {
	p, ok := catalog[strings.TrimSpace(id)]
	if !ok {
		return Package{}, ErrUnknownPackage
	}
	return p, nil
}

type Operation string

const (
	OpSummarize Operation = "summarize"
	OpExtract   Operation = "extract"
)

var costs = map[Operation]int64{
	OpSummarize: 5,
	OpExtract:   10,
}

func Cost(op Operation) (int64, error) {
	c, ok := costs[op]
	if !ok {
		return 0, ErrUnknownOperation
	}
	return c, nil
}

const signaturePrefix = "sha256="

// Sign returns the header value a sender computes for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an X-Signature header of the form sha256=<hex>.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
