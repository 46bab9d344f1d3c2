package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMetadata(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *Metadata
		wantErr bool
	}{
		{name: "absent", raw: ``},
		{name: "null", raw: `null`},
		{name: "object", raw: `{"images":["a.jpg"],"videos":["b.mp4"]}`, want: &Metadata{Images: []string{"a.jpg"}, Videos: []string{"b.mp4"}}},
		{name: "string encoded", raw: `"{\"images\":[\"a.jpg\"]}"`, want: &Metadata{Images: []string{"a.jpg"}}},
		{name: "double encoded", raw: `"\"{\\\"videos\\\":[\\\"v.mp4\\\"]}\""`, want: &Metadata{Videos: []string{"v.mp4"}}},
		{name: "string null", raw: `"null"`},
		{name: "empty string", raw: `""`},
		{name: "malformed string", raw: `"{images:"`, wantErr: true},
		{name: "number", raw: `12`, wantErr: true},
		{name: "wrong field type", raw: `{"images":"a.jpg"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMetadata(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetadataCloneIsDeep(t *testing.T) {
	m := Metadata{Images: []string{"a"}}
	c := m.Clone()
	c.Images[0] = "b"
	assert.Equal(t, "a", m.Images[0])
	assert.True(t, Metadata{}.Empty())
	assert.False(t, m.Empty())
}
