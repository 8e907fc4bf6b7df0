package file

import (
	"bufio"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// ReadList reads a manifest file line by line and returns the non-empty,
// non-comment lines in order.
//
// Lines that are empty or start with '#' (after trimming surrounding
// whitespace) are skipped, so manifests can carry comments and blank
// separators.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open manifest %s", path)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read manifest %s", path)
	}
	return out, nil
}
