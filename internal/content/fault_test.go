package content

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFaultDisplay(t *testing.T) {
	cases := []struct {
		fault *Fault
		want  string
	}{
		{&Fault{Kind: FaultScrape, Message: "timeout"}, "Scraping Error: timeout"},
		{&Fault{Kind: FaultContent, Message: "empty page"}, "Content Error: empty page"},
		{&Fault{Kind: FaultGeneration}, "Generation Error"},
		{nil, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.fault.Display())
	}
}

func TestFaultSticky(t *testing.T) {
	assert.True(t, (&Fault{Kind: FaultScrape}).Sticky())
	assert.True(t, (&Fault{Kind: FaultContent}).Sticky())
	assert.False(t, (&Fault{Kind: FaultGeneration}).Sticky())

	var nilFault *Fault
	assert.False(t, nilFault.Sticky())
}

func TestNewFaultUnwrapsSameKind(t *testing.T) {
	inner := &Fault{Kind: FaultScrape, Message: "dial tcp: refused"}
	wrapped := fmt.Errorf("scrape https://x/a: %w", inner)

	f := NewFault(FaultScrape, wrapped)
	assert.Equal(t, "dial tcp: refused", f.Message)

	f = NewFault(FaultGeneration, errors.New("model not found"))
	assert.Equal(t, FaultGeneration, f.Kind)
	assert.Equal(t, "model not found", f.Message)
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("content")
	assert.True(t, ok)
	assert.Equal(t, FaultContent, k)

	_, ok = ParseKind("")
	assert.False(t, ok)
	_, ok = ParseKind("bogus")
	assert.False(t, ok)
}
