package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "bitcoin": {"usd": 30123.45},
  "items": [
    {"full_name": "golang/go", "stargazers_count": 120000},
    {"full_name": "torvalds/linux"}
  ],
  "flag": true,
  "nothing": null,
  "label": "42.5"
}`

func TestLookup(t *testing.T) {
	root, err := Parse([]byte(sample))
	require.NoError(t, err)

	tests := []struct {
		path   string
		want   string
		kind   Kind
		exists bool
	}{
		{"bitcoin.usd", "30123.45", Number, true},
		{"items.0.full_name", "golang/go", String, true},
		{"items.1.full_name", "torvalds/linux", String, true},
		{"items.2.full_name", "", Null, false},
		{"items.x", "", Null, false},
		{"items.-1", "", Null, false},
		{"bitcoin.eur", "", Null, false},
		{"flag", "true", Bool, true},
		{"flag.deeper", "", Null, false},
		{"nothing", "null", Null, true},
		{"..bitcoin..usd.", "30123.45", Number, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := root.Lookup(tt.path)
			assert.Equal(t, tt.exists, ok)
			if !tt.exists {
				return
			}
			assert.Equal(t, tt.kind, got.Kind())
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestLookupEmptyPathReturnsRoot(t *testing.T) {
	root, err := Parse([]byte(`[1,2]`))
	require.NoError(t, err)

	got, ok := root.Lookup("")
	require.True(t, ok)
	assert.Equal(t, "[1,2]", got.String())
}

func TestDecimal(t *testing.T) {
	root, err := Parse([]byte(sample))
	require.NoError(t, err)

	v, _ := root.Lookup("bitcoin.usd")
	d, ok := v.Decimal()
	require.True(t, ok)
	assert.Equal(t, "30123.45", d.String())

	v, _ = root.Lookup("label")
	d, ok = v.Decimal()
	require.True(t, ok)
	assert.Equal(t, "42.5", d.String())

	v, _ = root.Lookup("items")
	_, ok = v.Decimal()
	assert.False(t, ok)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestObjectStringIsSorted(t *testing.T) {
	root, err := Parse([]byte(`{"b":1,"a":{"d":"x","c":[true,null]}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"c":[true,null],"d":"x"},"b":1}`, root.String())
}
