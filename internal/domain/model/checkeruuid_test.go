package model

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckerUUID_Valid(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ci:lint", "ci:lint"},
		{"TEST:a%20b", "test:a%20b"},
		{"test:a%20b", "test:a%20b"},
		{"Ci-Bot.v2:job/unit", "ci-bot.v2:job/unit"},
		{"ci:a%2fb", "ci:a%2Fb"},
		{"ci:%2D%7e", "ci:-~"},
		{"ci:user@host:8080", "ci:user@host:8080"},
		{"Git+CI2:x", "git+ci2:x"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := ParseCheckerUUID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())

			again, err := ParseCheckerUUID(u.String())
			require.NoError(t, err)
			assert.Equal(t, u, again, "normalized form must be stable under re-parsing")
		})
	}
}

func TestParseCheckerUUID_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"nocolon",
		":id",
		"ci:",
		"ci:/leading-slash",
		"ci:has space",
		"ci:tab\there",
		"ci:%0A",
		"ci:%7F",
		"ci:%zz",
		"ci:%4",
		"c i:x",
		".ci:x",
		"c..i:x",
		"ci.lock:x",
		"ci:back\\slash",
		"1ci:lint",
		"_ci:lint",
		"ci_x:lint",
		"-ci:lint",
		"+ci:lint",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := ParseCheckerUUID(in)
			assert.ErrorIs(t, err, ErrInvalidIdentifier)
			assert.False(t, IsCheckerUUID(in))
		})
	}
}

func TestCheckerUUID_EqualityAndDigest(t *testing.T) {
	a := MustParseCheckerUUID("TEST:a%20b")
	b := MustParseCheckerUUID("test:a%20b")

	assert.Equal(t, a, b)
	assert.Equal(t, a.Digest(), b.Digest())
	assert.Len(t, a.Digest(), 40)
	assert.Equal(t, "test", a.Scheme())
	assert.Equal(t, "a%20b", a.ID())

	d := a.Digest()
	assert.Equal(t, "refs/checkers/test/"+d[:2]+"/"+d, a.RefName())
}

func TestCheckerUUID_Ordering(t *testing.T) {
	uuids := []CheckerUUID{
		MustParseCheckerUUID("ci:z"),
		MustParseCheckerUUID("build:a"),
		MustParseCheckerUUID("ci:a"),
	}
	sort.Slice(uuids, func(i, j int) bool { return uuids[i].Compare(uuids[j]) < 0 })

	assert.Equal(t, "build:a", uuids[0].String())
	assert.Equal(t, "ci:a", uuids[1].String())
	assert.Equal(t, "ci:z", uuids[2].String())
}

func TestCheckerUUID_Text(t *testing.T) {
	var u CheckerUUID
	require.NoError(t, u.UnmarshalText([]byte("CI:lint")))
	b, err := u.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ci:lint", string(b))

	assert.ErrorIs(t, u.UnmarshalText([]byte("bad")), ErrInvalidIdentifier)
	assert.True(t, CheckerUUID{}.IsZero())
}
