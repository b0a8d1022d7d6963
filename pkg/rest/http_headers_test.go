package rest

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrefer(t *testing.T) {
	tests := []struct {
		header string
		want   *Prefer
	}{
		{header: "", want: nil},
		{header: "return=minimal", want: &Prefer{Return: "minimal"}},
		{header: `Return="Representation", count=exact`, want: &Prefer{Return: "representation", Count: "exact"}},
		{header: "return=everything, count=planned", want: &Prefer{Count: "planned"}},
		{header: "handling=lenient", want: &Prefer{}},
		{header: "return=minimal; foo=bar", want: &Prefer{Return: "minimal"}},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Prefer", tt.header)
			}
			assert.Equal(t, tt.want, parsePrefer(r))
		})
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Add("Prefer", "return=headers-only")
	r.Header.Add("Prefer", "count=estimated")
	assert.Equal(t, &Prefer{Return: "headers-only", Count: "estimated"}, parsePrefer(r))

	var none *Prefer
	assert.False(t, none.WantsMinimal())
	assert.False(t, none.WantsCount())
	assert.True(t, (&Prefer{Return: "headers-only"}).WantsHeadersOnly())
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "0-4/5", contentRange(0, 5, 5))
	assert.Equal(t, "10-11/40", contentRange(10, 2, 40))
	assert.Equal(t, "*/0", contentRange(3, 0, 0))
}

func TestFilterColumns(t *testing.T) {
	obj := map[string]any{
		"id":    1,
		"name":  "Lincoln",
		"owner": map[string]any{"id": 3, "name": "Lucy"},
		"computers": []map[string]any{
			{"id": 1, "name": "lixeiro", "vendor": "Lemote"},
		},
	}

	a := &API{include: []string{"name", "owner", "owner.name", "computers", "computers.vendor"}}
	assert.Equal(t, map[string]any{
		"name":      "Lincoln",
		"owner":     map[string]any{"name": "Lucy"},
		"computers": []map[string]any{{"vendor": "Lemote"}},
	}, a.filterColumns(obj))

	a = &API{exclude: []string{"id", "owner.id", "computers.name", "computers.vendor"}}
	assert.Equal(t, map[string]any{
		"name":      "Lincoln",
		"owner":     map[string]any{"name": "Lucy"},
		"computers": []map[string]any{{"id": 1}},
	}, a.filterColumns(obj))

	assert.Equal(t, obj, (&API{}).filterColumns(obj))
	assert.Nil(t, (&API{exclude: []string{"id"}}).filterColumns(nil))
}
