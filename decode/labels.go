package decode

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LabelTable maps a model's class indices to label strings. It is loaded once
// at pipeline construction and shared read-only by decoders.
type LabelTable []string

// Len returns the number of labels in the table.
func (lt LabelTable) Len() int {
	return len(lt)
}

// Name returns the label for a class index, or the index itself as a string
// when the table has no entry for it.
func (lt LabelTable) Name(classID int) string {
	if classID < 0 || classID >= len(lt) {
		return strconv.Itoa(classID)
	}
	return lt[classID]
}

// LoadLabels reads a newline-delimited label file and returns a slice of the
// labels. Lines of the form "<index> <label>" (the COCO label file layout) are
// also understood; the index column then decides the label's position and
// spaces within the label become underscores.
func LoadLabels(filename string) (LabelTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open label file %q", filename)
	}
	defer f.Close()

	labels := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) == 2 {
			if idx, convErr := strconv.Atoi(fields[0]); convErr == nil {
				label := strings.ReplaceAll(strings.TrimSpace(fields[1]), " ", "_")
				for len(labels) <= idx {
					labels = append(labels, "")
				}
				labels[idx] = label
				continue
			}
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not read label file %q", filename)
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("label file %q contains no labels", filename)
	}
	return LabelTable(labels), nil
}
