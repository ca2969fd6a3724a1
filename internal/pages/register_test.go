package pages

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalizeColor(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"rgb(255, 0, 0)":          "rgba(255, 0, 0, 1)",
		"rgba(255, 0, 0, 1)":      "rgba(255, 0, 0, 1)",
		" rgb(255 0 0) ":          "rgba(255, 0, 0, 1)",
		"rgb(12 34 56 / 0.5)":     "rgba(12, 34, 56, 0.5)",
		"rgba(0, 128, 0, 0.25)":   "rgba(0, 128, 0, 0.25)",
		"red":                     "red",
		"rgb(300, 0, 0)":          "rgb(300, 0, 0)",
		"rgb(1, 2)":               "rgb(1, 2)",
		"color(srgb 1 0 0)":       "color(srgb 1 0 0)",
		"rgba(255, 0, 0, 2)":      "rgba(255, 0, 0, 2)",
		"hsl(0deg 100% 50%)":      "hsl(0deg 100% 50%)",
		"rgba(255, 0, 0, banana)": "rgba(255, 0, 0, banana)",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeColor(in), in)
	}
}

func testNormalizeColor_RGBGainsOpaqueAlpha(t *rapid.T) {
	r := rapid.IntRange(0, 255).Draw(t, "r")
	g := rapid.IntRange(0, 255).Draw(t, "g")
	b := rapid.IntRange(0, 255).Draw(t, "b")

	got := NormalizeColor(fmt.Sprintf("rgb(%d, %d, %d)", r, g, b))
	require.Equal(t, fmt.Sprintf("rgba(%d, %d, %d, 1)", r, g, b), got)
	require.Equal(t, got, NormalizeColor(got))
}

func TestNormalizeColor_RGBGainsOpaqueAlpha(t *testing.T) {
	rapid.Check(t, testNormalizeColor_RGBGainsOpaqueAlpha)
}

func TestCarFormAddedMessage(t *testing.T) {
	t.Parallel()
	f := CarForm{Make: "Tesla", Model: "Model 3"}
	require.Equal(t, "Car Tesla Model 3 added successfully!", f.AddedMessage())
}
