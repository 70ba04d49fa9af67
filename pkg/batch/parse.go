package batch

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/anmitsu/go-shlex"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/types"
)

// Entry is one parsed input record. Entries with Err set are reported as
// failures and never reconciled.
type Entry struct {
	Source string
	Record Record
	Err    error
}

// MaxLineLength bounds a single record line of the lines format
const MaxLineLength = 64 * 1024

var yamlKeys = map[string]bool{
	"username":              true,
	"email":                 true,
	"remove":                true,
	"staff":                 true,
	"superuser":             true,
	"groups":                true,
	"unusable_password":     true,
	"initial_password_hash": true,
}

// DetectFormat picks the batch format from a file name
func DetectFormat(path string) types.BatchFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return types.BatchFormatYAML
	default:
		return types.BatchFormatLines
	}
}

// Parse reads all entries of r in the given format. The returned error is
// reserved for unreadable input; bad records come back as entries with Err.
func Parse(r io.Reader, format types.BatchFormat) ([]Entry, error) {
	switch format {
	case types.BatchFormatLines, "":
		return ParseLines(r)
	case types.BatchFormatYAML:
		return ParseYAML(r)
	default:
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unsupported batch format: %s", format))
	}
}

// ParseLines reads one shell-quoted record per line:
//
//	USERNAME EMAIL [--remove] [--staff] [--superuser] [-g GROUP]... [--groups a,b]
//	    [--unusable-password] [--initial-password-hash HASH]
//
// Blank lines and lines starting with # are skipped.
func ParseLines(r io.Reader) ([]Entry, error) {
	var entries []Entry
	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		raw, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, fmt.Errorf("failed to read batch input: %w", readErr)
		}
		if raw == "" && readErr == io.EOF {
			break
		}
		lineNo++

		line := strings.TrimSpace(raw)
		if line != "" && !strings.HasPrefix(line, "#") {
			entry := Entry{Source: fmt.Sprintf("line %d", lineNo)}
			if len(line) > MaxLineLength {
				entry.Err = errors.NewInvalidInputError(fmt.Sprintf("line exceeds %d bytes", MaxLineLength))
			} else {
				entry.Record, entry.Err = parseLine(line)
				if entry.Err == nil {
					entry.Err = entry.Record.Validate()
				}
			}
			entries = append(entries, entry)
		}

		if readErr == io.EOF {
			break
		}
	}
	return entries, nil
}

func parseLine(line string) (Record, error) {
	args, err := shlex.Split(line, true)
	if err != nil {
		return Record{}, errors.NewInvalidInputError(fmt.Sprintf("cannot split line: %v", err))
	}

	var flags RecordFlags
	flagSet := pflag.NewFlagSet("record", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flags.AddFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return Record{}, errors.NewInvalidInputError(err.Error())
	}
	return flags.Record(flagSet, flagSet.Args())
}

// ParseYAML reads a manifest of the form
//
//	users:
//	  - username: alice
//	    email: alice@example.com
//	    staff: true
//	    groups: [editors]
func ParseYAML(r io.Reader) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.NewInvalidInputError(fmt.Sprintf("invalid YAML: %v", err))
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.NewInvalidInputError("batch manifest must be a mapping with a users list")
	}

	var list *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "users" {
			list = root.Content[i+1]
		}
	}
	if list == nil {
		return nil, errors.NewMissingFieldError("users")
	}
	if list.Kind != yaml.SequenceNode {
		return nil, errors.NewInvalidInputError("users must be a list")
	}

	entries := make([]Entry, 0, len(list.Content))
	for _, item := range list.Content {
		entry := Entry{Source: fmt.Sprintf("line %d", item.Line)}
		entry.Err = decodeYAMLRecord(item, &entry.Record)
		if entry.Err == nil {
			entry.Err = entry.Record.Validate()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func decodeYAMLRecord(node *yaml.Node, rec *Record) error {
	if node.Kind != yaml.MappingNode {
		return errors.NewInvalidInputError("user entry must be a mapping")
	}
	for i := 0; i < len(node.Content); i += 2 {
		if key := node.Content[i].Value; !yamlKeys[key] {
			return errors.NewInvalidInputError(fmt.Sprintf("unknown field %q", key))
		}
	}
	if err := node.Decode(rec); err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	return nil
}
