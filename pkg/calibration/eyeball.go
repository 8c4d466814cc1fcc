package calibration

import (
	"fmt"
	"io"

	"ccdreduce/pkg/fitsfile"
)

// Sorted is the result of eyeballing a bias list
type Sorted struct {
	Good []string
	Bad  []string
}

// Sort asks judge about every file in order and splits the list into good
// and bad frames. An error from judge stops the sort.
func Sort(files []string, judge func(path string) (bool, error)) (*Sorted, error) {
	sorted := &Sorted{}
	for _, f := range files {
		good, err := judge(f)
		if err != nil {
			return nil, err
		}
		if good {
			sorted.Good = append(sorted.Good, f)
		} else {
			sorted.Bad = append(sorted.Bad, f)
		}
	}
	return sorted, nil
}

// WriteLists writes <list>_GOOD and <list>_BAD, one file name per line
func (s *Sorted) WriteLists(list string) (good, bad string, err error) {
	good, bad = list+"_GOOD", list+"_BAD"
	if err := writeList(good, s.Good); err != nil {
		return "", "", err
	}
	if err := writeList(bad, s.Bad); err != nil {
		return "", "", err
	}
	return good, bad, nil
}

func writeList(path string, files []string) error {
	return fitsfile.WriteFileAtomic(path, func(w io.Writer) error {
		for _, f := range files {
			if _, err := fmt.Fprintln(w, f); err != nil {
				return err
			}
		}
		return nil
	})
}
