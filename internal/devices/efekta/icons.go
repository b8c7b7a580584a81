package efekta

import (
	"embed"
	"encoding/base64"
)

//go:embed icons/*.jpg
var icons embed.FS

// iconURI returns an embedded JPEG as a data URI. A missing file is a build
// mistake, so it panics at registry construction.
func iconURI(name string) string {
	data, err := icons.ReadFile("icons/" + name)
	if err != nil {
		panic("efekta: missing icon " + name)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}
