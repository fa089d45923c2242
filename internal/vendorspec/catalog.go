package vendorspec

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed formats/*.yaml
var defaultFS embed.FS

// Catalog is an ordered, immutable set of vendor formats. Declaration order
// matters: the sniffer breaks confidence ties by position.
type Catalog struct {
	formats []*Format
	byID    map[string]*Format
}

// Formats returns the formats in declaration order.
func (c *Catalog) Formats() []*Format {
	return c.formats
}

// Get returns a format by ID.
func (c *Catalog) Get(id string) (*Format, bool) {
	f, ok := c.byID[id]
	return f, ok
}

// Len returns the number of formats.
func (c *Catalog) Len() int { return len(c.formats) }

// LoadDefault loads the embedded format catalog.
func LoadDefault() (*Catalog, error) {
	return loadFS(defaultFS, "formats")
}

// LoadDir loads all .yaml files from a directory, in lexicographic filename
// order. Use this to override the embedded catalog in deployment.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "vendorspec: read catalog dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var formats []*Format
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, eris.Wrapf(err, "vendorspec: read %s", name)
		}
		f, err := parseFormat(data, name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return newCatalog(formats)
}

func loadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, eris.Wrap(err, "vendorspec: read embedded catalog")
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var formats []*Format
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, eris.Wrapf(err, "vendorspec: read embedded %s", name)
		}
		f, err := parseFormat(data, name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return newCatalog(formats)
}

func parseFormat(data []byte, source string) (*Format, error) {
	f := &Format{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, eris.Wrapf(err, "vendorspec: parse %s", source)
	}
	// yaml zero value for an unset column is 0, a legitimate index; rules
	// resolving by header must say so explicitly.
	for i := range f.Fields {
		if f.Fields[i].Header != "" {
			f.Fields[i].Column = -1
		}
	}
	if err := Check(f); err != nil {
		return nil, eris.Wrapf(err, "vendorspec: invalid format in %s", source)
	}
	return f, nil
}

func newCatalog(formats []*Format) (*Catalog, error) {
	byID := make(map[string]*Format, len(formats))
	for _, f := range formats {
		if _, dup := byID[f.ID]; dup {
			return nil, eris.Errorf("vendorspec: duplicate format id %q", f.ID)
		}
		byID[f.ID] = f
	}
	zap.L().Debug("vendorspec: catalog loaded", zap.Int("formats", len(formats)))
	return &Catalog{formats: formats, byID: byID}, nil
}
