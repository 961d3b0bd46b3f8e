// Package dirlist renders a directory's contents into an HTML listing
// (§4.8), in the style of the teacher's template-driven rendering
// (see aofei-air's renderer.go for the html/template pattern this
// generalizes away from a full page renderer into a single fragment).
package dirlist

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"math"
	"os"
	"path"
	"sort"
	"strings"
)

// ErrForbidden is returned when no ".viewable" marker exists and
// all_viewable is false.
var ErrForbidden = errors.New("dirlist: listing forbidden")

// ErrUnreadable is returned when the directory's entries can't be
// enumerated at all (§4.8 step 1: "if none can be read, NotFound"),
// distinct from ErrForbidden (readable, but not listable) and from a
// template execution failure (an internal error, not a missing
// resource).
var ErrUnreadable = errors.New("dirlist: directory entries not readable")

// Options mirrors the configured dir_listing section.
type Options struct {
	Enabled      bool
	AllViewable  bool
	ShowSymlinks bool
	ShowHidden   bool
}

// Entry is one row of the rendered listing.
type Entry struct {
	Name         string // href, relative to the listed directory
	Display      string // display name, trailing "/" for directories
	LastModified string
	Size         string
	SymlinkNote  string
}

// defaultTemplate is used when the virtual server has no
// "dirlisting.html" under its template root.
var defaultTemplate = template.Must(template.New("dirlisting").Parse(`<!DOCTYPE html>
<html>
<head><title>Index of {{.RoutePath}}</title></head>
<body>
<h1>Index of {{.RoutePath}}</h1>
{{if .Message}}<p>{{.Message}}</p>{{end}}
<table>
<tr><th>Name</th><th>Last modified</th><th>Size</th></tr>
{{range .Entries}}<tr><td><a href="{{.Name}}">{{.Display}}</a>{{.SymlinkNote}}</td><td>{{.LastModified}}</td><td>{{.Size}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// Page is the data handed to the listing template.
type Page struct {
	RoutePath string
	Message   template.HTML
	Entries   []Entry
}

// Render produces the HTML body for routePath (the route-relative
// directory, used for display and hrefs) backed by diskPath (the
// on-disk directory), per §4.8's 7 steps. tmpl may be nil to use the
// built-in fallback template.
func Render(routePath, diskPath string, opts Options, tmpl *template.Template) ([]byte, error) {
	raw, err := os.ReadDir(diskPath)
	if err != nil {
		return nil, ErrUnreadable
	}

	var message string
	var hasViewable bool
	for _, e := range raw {
		if e.Name() == ".viewable" {
			hasViewable = true
			content, err := os.ReadFile(path.Join(diskPath, ".viewable"))
			if err == nil {
				message = strings.ReplaceAll(string(content), "\n", "<br>")
			}
			break
		}
	}
	if !hasViewable && !opts.AllViewable {
		return nil, ErrForbidden
	}

	type staged struct {
		name    string
		info    os.FileInfo
		isDir   bool
		symlink bool
		target  string
		broken  bool
	}
	var items []staged
	for _, e := range raw {
		if e.Name() == ".viewable" {
			continue
		}
		if !opts.ShowHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st := staged{name: e.Name(), info: info}
		if info.Mode()&os.ModeSymlink != 0 {
			st.symlink = true
			target, err := os.Readlink(path.Join(diskPath, e.Name()))
			if err != nil {
				st.broken = true
			} else {
				st.target = target
				if fi, err := os.Stat(path.Join(diskPath, e.Name())); err == nil {
					st.isDir = fi.IsDir()
				} else {
					st.broken = true
				}
			}
		} else {
			st.isDir = info.IsDir()
		}
		items = append(items, st)
	}

	sort.SliceStable(items, func(i, j int) bool {
		rank := func(s staged) int {
			switch {
			case s.isDir:
				return 0
			case s.symlink:
				return 1
			default:
				return 2
			}
		}
		ri, rj := rank(items[i]), rank(items[j])
		if ri != rj {
			return ri < rj
		}
		return items[i].name < items[j].name
	})

	var entries []Entry
	if parent := parentOf(routePath); parent != "" {
		entries = append(entries, Entry{
			Name:         "..",
			Display:      "../",
			LastModified: "-",
			Size:         "-",
		})
	}

	for _, it := range items {
		display := it.name
		if it.isDir {
			display += "/"
		}
		size := "-"
		if !it.isDir {
			size = humanSize(it.info.Size())
		}
		note := ""
		if it.symlink && opts.ShowSymlinks {
			if it.broken {
				note = " (broken symlink)"
			} else {
				target := it.target
				if it.isDir {
					target += "/"
				}
				note = " -> " + target
			}
		}
		entries = append(entries, Entry{
			Name:         it.name,
			Display:      display,
			LastModified: it.info.ModTime().UTC().Format("02/01/2006 at 15:04") + " UTC",
			Size:         size,
			SymlinkNote:  note,
		})
	}

	page := Page{
		RoutePath: routePath,
		Message:   template.HTML(message),
		Entries:   entries,
	}

	t := tmpl
	if t == nil {
		t = defaultTemplate
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parentOf(routePath string) string {
	trimmed := strings.TrimSuffix(routePath, "/")
	if trimmed == "" {
		return ""
	}
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

func humanSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	f := float64(n)
	unit := 0
	for f >= 1024 && unit < len(sizeUnits)-1 {
		f /= 1024
		unit++
	}
	return trimFloat(f) + " " + sizeUnits[unit]
}

func trimFloat(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%.0f", f)
	}
	s := fmt.Sprintf("%.1f", f)
	s = strings.TrimSuffix(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}
