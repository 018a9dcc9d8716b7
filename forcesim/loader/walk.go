package loader

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// definitionFiles returns the files to load for path: path itself when it is
// a file, otherwise every .json file below it in lexical order.
func definitionFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".json") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

// loadItems reads every definition file under path and calls build for each
// named item. Items build rejects are logged and skipped; later files
// override earlier ones on name collisions.
func loadItems[T any](log logrus.FieldLogger, kind, path string, build func(raw json.RawMessage) (T, error)) (map[string]T, error) {
	out := make(map[string]T)
	if path == "" {
		return out, nil
	}
	files, err := definitionFiles(path)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		log.Debugf("loading %s definitions from %s", kind, file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s definitions: %w", kind, err)
		}
		var items map[string]json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("parsing %s definitions %s: %w", kind, file, err)
		}
		for _, name := range sortedKeys(items) {
			item, err := build(items[name])
			if err != nil {
				log.Warnf("skipping %s %q in %s: %v", kind, name, file, err)
				continue
			}
			out[name] = item
		}
	}
	return out, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitType removes the "type" tag and the named extra members from an item
// and returns them along with the remaining members re-encoded.
func splitType(raw json.RawMessage, extra ...string) (string, map[string]json.RawMessage, json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return "", nil, nil, err
	}
	rawType, ok := members["type"]
	if !ok {
		return "", nil, nil, fmt.Errorf("missing \"type\"")
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return "", nil, nil, fmt.Errorf("type: %w", err)
	}
	delete(members, "type")

	taken := make(map[string]json.RawMessage)
	for _, k := range extra {
		if v, ok := members[k]; ok {
			taken[k] = v
			delete(members, k)
		}
	}
	rest, err := json.Marshal(members)
	if err != nil {
		return "", nil, nil, err
	}
	return typ, taken, rest, nil
}
