// Package assets embeds the static files shipped with the binaries.
package assets

import (
	"embed"
)

//go:embed common-passwords.txt
var CommonPasswords []byte

//go:embed templates/email/*
var EmailTemplates embed.FS

// EmailTemplatesDir is the root of the email templates in EmailTemplates.
const EmailTemplatesDir = "templates/email"
