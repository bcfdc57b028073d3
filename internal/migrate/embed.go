package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var schemaFS embed.FS

//go:embed seeds/*.sql
var seedFS embed.FS

// Schema returns the embedded migration files.
func Schema() fs.FS {
	sub, err := fs.Sub(schemaFS, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the embedded seed files.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFS, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
