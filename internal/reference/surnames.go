// Package reference loads the static reference data used by the sanitation
// job: the U.S. Census surname list and a dictionary word list. Both are
// loaded once per job run and treated as read-only afterwards.
package reference

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Set is a lookup set of lowercased reference tokens. Membership checks are
// O(1); the surname check runs once per word of every kept query, so a
// linear scan over the list is too slow at job volume.
type Set map[string]struct{}

// Contains reports whether the set holds the given token. The token must
// already be lowercased.
func (s Set) Contains(token string) bool {
	_, ok := s[token]
	return ok
}

// Add inserts a token, lowercasing it first.
func (s Set) Add(token string) {
	s[strings.ToLower(token)] = struct{}{}
}

// LoadSurnames reads a census surname CSV and returns the set of lowercased
// names. The file is expected to have a header row containing a "name"
// column (the 2010 Census layout); other columns are ignored.
func LoadSurnames(ctx context.Context, r io.Reader) (Set, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "reference: read surname header")
	}

	nameIdx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "name") {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.New("reference: surname CSV has no 'name' column")
	}

	set := make(Set)
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "reference: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "reference: read surname row")
		}
		if nameIdx >= len(record) {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(record[nameIdx]))
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}

	return set, nil
}

// LoadSurnamesFile opens and loads a census surname CSV from disk.
func LoadSurnamesFile(ctx context.Context, path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: open surname file %s", path)
	}
	defer f.Close()
	return LoadSurnames(ctx, f)
}
