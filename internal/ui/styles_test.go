package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoColorStyles_RenderPlainText(t *testing.T) {
	styles := NoColorStyles()

	assert.Equal(t, "ok", styles.Success.Render("ok"))
	assert.Equal(t, "warn", styles.Warning.Render("warn"))
	assert.Equal(t, "x", styles.Label.Render("x"))
}

func TestDefaultStyles_KeepText(t *testing.T) {
	assert.Contains(t, DefaultStyles().Header.Render("Test"), "Test")
}

func TestGetStyles_NoColorFlag(t *testing.T) {
	assert.Equal(t, "plain", GetStyles(true).Active.Render("plain"))
}

func TestGetStyles_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	assert.Equal(t, "plain", GetStyles(false).Active.Render("plain"))
}
