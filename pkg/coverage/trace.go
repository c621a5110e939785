package coverage

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/715d/chacov/pkg/ident"
)

// ReplayTrace feeds a recorded event log to t. Each line is one event:
//
//	M <method id>                 method entry
//	S <site id>                   direct call site
//	V <site id> <receiver class>  dispatched call site
//
// Blank lines and lines starting with '#' are ignored. Replay stops at the
// first malformed line or failing event. It returns the number of events
// applied.
func ReplayTrace(t *Tracker, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	var applied int
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := replayLine(t, line); err != nil {
			return applied, fmt.Errorf("trace line %d: %w", n, err)
		}
		applied++
	}
	if err := sc.Err(); err != nil {
		return applied, fmt.Errorf("read trace: %w", err)
	}
	return applied, nil
}

func replayLine(t *Tracker, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "M":
		if len(fields) != 2 {
			return fmt.Errorf("method entry %q: want 1 argument", line)
		}
		id, err := ident.ParseMethodID(fields[1])
		if err != nil {
			return err
		}
		return t.OnMethodEntry(id)
	case "S":
		if len(fields) != 2 {
			return fmt.Errorf("call %q: want 1 argument", line)
		}
		site, err := ident.ParseSiteID(fields[1])
		if err != nil {
			return err
		}
		return t.OnCallSite(site)
	case "V":
		if len(fields) != 3 {
			return fmt.Errorf("dispatched call %q: want 2 arguments", line)
		}
		site, err := ident.ParseSiteID(fields[1])
		if err != nil {
			return err
		}
		return t.OnVirtualCallSiteClass(site, fields[2])
	default:
		return fmt.Errorf("unknown event %q", fields[0])
	}
}
