package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootURL(t *testing.T) {
	assert.Equal(t, "https://portal.example.com", RootURL("https://portal.example.com/api", "/api"))
	assert.Equal(t, "https://portal.example.com", RootURL("https://portal.example.com/api/", "/api/"))
	assert.Equal(t, "https://portal.example.com/v2", RootURL("https://portal.example.com/v2", "/api"))
	assert.Equal(t, "http://localhost:3000", RootURL(" http://localhost:3000/api ", "/api"))
}

func TestProbe(t *testing.T) {
	incapable := []string{"*.vercel.app", "  ", "static.example.org"}

	tests := []struct {
		name    string
		apiBase string
		capable bool
	}{
		{name: "absolute backend", apiBase: "https://portal.example.com/api", capable: true},
		{name: "local backend", apiBase: "http://localhost:3000/api", capable: true},
		{name: "same-origin proxy", apiBase: "/api", capable: false},
		{name: "serverless subdomain", apiBase: "https://dealer-portal.vercel.app/api", capable: false},
		{name: "serverless parent", apiBase: "https://vercel.app/api", capable: false},
		{name: "serverless upper case", apiBase: "https://Portal.VERCEL.app/api", capable: false},
		{name: "exact host", apiBase: "https://static.example.org/api", capable: false},
		{name: "lookalike host", apiBase: "https://notvercel.app/api", capable: true},
		{name: "unsupported scheme", apiBase: "ftp://portal.example.com/api", capable: false},
		{name: "empty", apiBase: "", capable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Probe(tt.apiBase, "/api", incapable)
			assert.Equal(t, tt.capable, c.Capable)
			if !tt.capable {
				assert.NotEmpty(t, c.Reason)
			}
		})
	}
}
