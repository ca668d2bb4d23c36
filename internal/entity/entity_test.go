package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	cases := []struct {
		in   string
		want Type
	}{
		{"orgs", Organization},
		{"organisations", Organization},
		{"Organization", Organization},
		{"groups", Group},
		{"user", User},
		{"pages", Page},
		{"packages", Dataset},
		{" dataset ", Dataset},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseType(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseType("vocabulary")
	assert.Error(t, err)
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{"name": "org-1", "private": "True", "count": 3.0, "empty": nil}

	assert.Equal(t, "org-1", rec.String("name"))
	assert.Equal(t, "3", rec.String("count"))
	assert.Equal(t, "", rec.String("empty"))
	assert.Equal(t, "", rec.String("missing"))
	assert.True(t, rec.Bool("private"))
	assert.False(t, rec.Bool("missing"))
}

func TestRecordCloneIsShallowCopy(t *testing.T) {
	rec := Record{"id": "a"}
	cp := rec.Clone()
	cp["id"] = "b"
	assert.Equal(t, "a", rec["id"])
}

func TestRestricted(t *testing.T) {
	assert.True(t, Page.Restricted())
	for _, typ := range []Type{Organization, Group, User, Dataset} {
		assert.False(t, typ.Restricted(), typ)
	}
}
