package reference

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// LoadWordlist reads a newline-delimited dictionary word list into a Set.
// Blank lines and surrounding whitespace are dropped; words are lowercased.
func LoadWordlist(r io.Reader) (Set, error) {
	set := make(Set)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		word := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if word == "" {
			continue
		}
		set[word] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "reference: scan wordlist")
	}
	return set, nil
}

// LoadWordlistFile opens and loads a dictionary word list from disk.
func LoadWordlistFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: open wordlist %s", path)
	}
	defer f.Close()
	return LoadWordlist(f)
}
