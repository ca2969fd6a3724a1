package pages

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLocatorQuery(t *testing.T) {
	t.Parallel()
	cases := []struct {
		loc  Locator
		want string
	}{
		{CSS(".alert.alert-success"), "css=.alert.alert-success"},
		{XPath("//nav/a"), "xpath=//nav/a"},
		{ID("confirm_pass"), `css=[id="confirm_pass"]`},
		{Name("description"), `css=[name="description"]`},
		{ClassName("branding-icon"), `css=[class~="branding-icon"]`},
		{TagName("body"), "css=body"},
		{Text(`Say "hi"`), `text="Say \"hi\""`},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.loc.Query(), tc.loc.String())
	}
	require.Equal(t, "id=confirm_pass", ID("confirm_pass").String())
}

func testQuoteSelectorString_RoundTrip(t *rapid.T) {
	s := rapid.String().Draw(t, "s")
	q := quoteSelectorString(s)
	require.True(t, strings.HasPrefix(q, `"`) && strings.HasSuffix(q, `"`))
	require.NotContains(t, q, "\n")

	got, ok := unquoteSelectorString(q)
	require.True(t, ok, q)
	require.Equal(t, s, got)
}

func TestQuoteSelectorString_RoundTrip(t *testing.T) {
	rapid.Check(t, testQuoteSelectorString_RoundTrip)
}

func TestUnquoteSelectorString_RejectsMalformed(t *testing.T) {
	t.Parallel()
	for _, q := range []string{``, `"`, `abc`, `"a"b"`, `"\q"`, `"\a"`, `"\"`} {
		_, ok := unquoteSelectorString(q)
		require.False(t, ok, q)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "dashboard", KindDashboard.String())
	require.Equal(t, "add_car", KindAddCar.String())
	require.Equal(t, "unknown", Kind(99).String())

	var p Page = &LoginPage{}
	l, err := AsLogin(p)
	require.NoError(t, err)
	require.Same(t, p, l)
}
