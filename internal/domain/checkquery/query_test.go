package checkquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
)

func check(uuid string, state model.CheckState) model.Check {
	return model.Check{
		Key:   model.CheckKey{Repository: "R", PatchSet: model.PatchSetID{Change: 1, Number: 1}, CheckerUUID: model.MustParseCheckerUUID(uuid)},
		State: state,
	}
}

func TestParse_Structure(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  *Node
	}{
		{
			name:  "single checker",
			query: "checker:ci:lint",
			want:  CheckerIs(model.MustParseCheckerUUID("ci:lint")),
		},
		{
			name:  "juxtaposition is AND",
			query: "scheme:CI state:failed",
			want:  And(SchemeIs("ci"), StateIs(model.CheckStateFailed)),
		},
		{
			name:  "explicit AND and OR precedence",
			query: "checker:ci:lint AND state:RUNNING OR state:SCHEDULED",
			want: Or(
				And(CheckerIs(model.MustParseCheckerUUID("ci:lint")), StateIs(model.CheckStateRunning)),
				StateIs(model.CheckStateScheduled),
			),
		},
		{
			name:  "parentheses and negation",
			query: "checker:ci:lint (state:RUNNING OR -state:SCHEDULED)",
			want: And(
				CheckerIs(model.MustParseCheckerUUID("ci:lint")),
				Or(StateIs(model.CheckStateRunning), Not(StateIs(model.CheckStateScheduled))),
			),
		},
		{
			name:  "NOT keyword",
			query: "scheme:ci NOT state:SUCCESSFUL",
			want:  And(SchemeIs("ci"), Not(StateIs(model.CheckStateSuccessful))),
		},
		{
			name:  "quoted value",
			query: `checker:"ci:lint" state:"not started"`,
			want:  And(CheckerIs(model.MustParseCheckerUUID("ci:lint")), StateIs(model.CheckStateNotStarted)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", "   "},
		{"unknown operator", "owner:alice"},
		{"bare word", "lint"},
		{"invalid uuid", "checker:nocolon"},
		{"invalid state", "state:BROKEN"},
		{"unbalanced paren", "(checker:ci:lint"},
		{"stray close paren", "checker:ci:lint)"},
		{"dangling OR", "checker:ci:lint OR"},
		{"unterminated quote", `checker:"ci:lint`},
		{"empty value", "scheme: state:RUNNING"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.query)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
		want    Anchor
	}{
		{
			name:  "checker root",
			query: "checker:ci:lint",
			want:  Anchor{Kind: KindChecker, Checker: model.MustParseCheckerUUID("ci:lint")},
		},
		{
			name:  "scheme direct AND child",
			query: "state:RUNNING scheme:ci",
			want:  Anchor{Kind: KindScheme, Scheme: "ci"},
		},
		{name: "no anchor", query: "state:RUNNING", wantErr: true},
		{name: "two anchors", query: "checker:ci:lint scheme:ci", wantErr: true},
		{name: "anchor inside OR", query: "checker:ci:lint OR state:RUNNING", wantErr: true},
		{name: "anchor nested two levels in OR", query: "state:FAILED (state:RUNNING OR checker:ci:lint)", wantErr: true},
		{name: "negated anchor", query: "-checker:ci:lint", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.query)
			require.NoError(t, err)

			got, err := Validate(n)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQuery)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_DefaultsToNotStarted(t *testing.T) {
	n, _, err := Compile("checker:ci:lint")
	require.NoError(t, err)

	assert.True(t, n.Match(check("ci:lint", model.CheckStateNotStarted)))
	assert.False(t, n.Match(check("ci:lint", model.CheckStateRunning)))
	assert.False(t, n.Match(check("ci:other", model.CheckStateNotStarted)))

	// The anchor must still be a direct child after the default is added.
	_, err = Validate(n)
	require.NoError(t, err)
}

func TestCompile_ExplicitStateKept(t *testing.T) {
	n, anchor, err := Compile("scheme:ci (state:RUNNING OR state:SCHEDULED)")
	require.NoError(t, err)
	assert.Equal(t, "ci", anchor.Scheme)

	assert.True(t, n.Match(check("ci:lint", model.CheckStateRunning)))
	assert.True(t, n.Match(check("ci:build", model.CheckStateScheduled)))
	assert.False(t, n.Match(check("ci:lint", model.CheckStateNotStarted)))
	assert.False(t, n.Match(check("other:lint", model.CheckStateRunning)))
}

func TestNode_StringReparses(t *testing.T) {
	queries := []string{
		"checker:ci:lint",
		"scheme:ci (state:RUNNING OR NOT state:FAILED)",
		"checker:ci:a%2Fb state:successful",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			n, err := Parse(q)
			require.NoError(t, err)

			again, err := Parse(n.String())
			require.NoError(t, err)
			assert.Equal(t, n, again)
		})
	}
}

func TestNode_CostIsZero(t *testing.T) {
	n, err := Parse("scheme:ci (state:RUNNING OR -state:FAILED)")
	require.NoError(t, err)
	Walk(n, func(x *Node) {
		assert.Zero(t, x.Cost())
	})
}
