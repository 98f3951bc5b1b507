// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the SQL files applied by postgres.EnsureSchema.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
)

//go:embed *.sql
var embeddedFiles embed.FS

// Files are named NNN_description.sql and applied in name order.
var namePattern = regexp.MustCompile(`^\d{3}_[a-z0-9_]+\.sql$`)

type File struct {
	Name string
	SQL  string
}

func Ordered() ([]File, error) {
	entries, err := fs.ReadDir(embeddedFiles, ".")
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !namePattern.MatchString(entry.Name()) {
			return nil, fmt.Errorf("migration %q does not match NNN_name.sql", entry.Name())
		}
		prefix := entry.Name()[:3]
		if other, dup := seen[prefix]; dup {
			return nil, fmt.Errorf("migrations %q and %q share prefix %s", other, entry.Name(), prefix)
		}
		seen[prefix] = entry.Name()

		body, err := embeddedFiles.ReadFile(entry.Name())
		if err != nil {
			return nil, err
		}

		files = append(files, File{
			Name: entry.Name(),
			SQL:  string(body),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	return files, nil
}
