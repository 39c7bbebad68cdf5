package cups

import (
	"bufio"
	"net/url"
	"strings"

	"github.com/printdialog/printdialog/internal/printer"
)

// parsePrinters parses the output of `lpstat -l -p`. Each printer starts
// with a "printer NAME ..." line followed by indented detail lines, of
// which only Description and Location are kept. Names are returned in
// output order.
func parsePrinters(output string) ([]string, map[string]printer.Record) {
	var order []string
	records := make(map[string]printer.Record)
	current := ""

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "printer ") {
			fields := strings.Fields(line)
			if len(fields) < 3 {
				current = ""
				continue
			}
			current = fields[1]
			if _, seen := records[current]; !seen {
				order = append(order, current)
			}
			records[current] = printer.Record{Name: current, State: stateFromLine(fields[2:])}
			continue
		}
		if current == "" {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		rec := records[current]
		switch key {
		case "Description":
			rec.Presentation = strings.TrimSpace(value)
			rec.Info = rec.Presentation
		case "Location":
			rec.Location = strings.TrimSpace(value)
		case "Interface", "Make and Model":
			rec.MakeModel = strings.TrimSpace(value)
		default:
			continue
		}
		records[current] = rec
	}
	return order, records
}

// stateFromLine maps the words after the printer name:
// "is idle.", "now printing lab-12.", "disabled since ...".
func stateFromLine(words []string) printer.State {
	switch words[0] {
	case "disabled":
		return printer.Stopped
	case "now":
		return printer.Processing
	case "is":
		if len(words) > 1 {
			if s, err := printer.ParseState(strings.TrimSuffix(words[1], ".")); err == nil {
				return s
			}
		}
	}
	return printer.Idle
}

// parseAccepting parses `lpstat -a` lines of the form
// "NAME accepting requests since ..." or "NAME not accepting requests ...".
func parseAccepting(output string) map[string]bool {
	result := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[1] {
		case "accepting":
			result[fields[0]] = true
		case "not":
			result[fields[0]] = false
		}
	}
	return result
}

// parseDevices parses `lpstat -v` lines of the form
// "device for NAME: URI" into a name to URI map.
func parseDevices(output string) map[string]string {
	result := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), "device for ")
		if !ok {
			continue
		}
		name, uri, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		result[strings.TrimSpace(name)] = strings.TrimSpace(uri)
	}
	return result
}

// parseDefault parses `lpstat -d`. It returns "" when no default is set.
func parseDefault(output string) string {
	_, name, ok := strings.Cut(strings.TrimSpace(output), "system default destination:")
	if !ok {
		return ""
	}
	return strings.TrimSpace(name)
}

// classifyDevice reports whether a queue with the given device URI is a
// network queue and whether it is a temporary queue created on demand for
// a discovered printer.
func classifyDevice(uri string) (remote, temporary bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return false, false
	}
	switch u.Scheme {
	case "implicitclass", "dnssd", "mdns":
		return true, true
	case "ipp", "ipps", "http", "https", "lpd", "socket", "smb":
		host := u.Hostname()
		return host != "localhost" && host != "127.0.0.1" && host != "::1", false
	}
	return false, false
}
