package main

import (
	"io"

	"github.com/holmesengine/shepherd/contrib"
)

// appendFeedbackEntries decodes a stream of contrib.Entry records from r
// and appends each one to dir's contribution log.
func appendFeedbackEntries(dir string, r io.Reader) error {
	af, err := contrib.OpenAppend(contribPath(dir))
	if err != nil {
		return err
	}
	defer af.Close()
	for {
		e, err := contrib.Decode(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := af.Append(e); err != nil {
			return err
		}
	}
	return af.Flush()
}
