// Package analyser turns raw directory listings into import items by
// decoding the version and metadata file naming conventions.
package analyser

import (
	"context"
	"sort"

	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/metadata"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

// Entry is one raw entry of a source directory listing
type Entry struct {
	Name     string
	Path     string
	Dir      bool
	Readable bool
	Size     int64
}

// Result holds the items found in one listing
type Result struct {
	Directories []*item.Item
	Files       []*item.Item
}

// Analyser builds items from directory listings
type Analyser struct {
	loader  metadata.Loader
	status  *status.Status
	log     *logging.Logger
	inPlace bool
}

// NewAnalyser creates a new analyser. With inPlace set, file content is
// referenced where it lies instead of being streamed.
func NewAnalyser(loader metadata.Loader, st *status.Status, log *logging.Logger, inPlace bool) *Analyser {
	return &Analyser{loader: loader, status: st, log: log, inPlace: inPlace}
}

// VersionFiles names the source entries behind one version
type VersionFiles struct {
	Number   item.Number
	Content  *Entry
	Metadata *Entry
}

type group struct {
	base  string
	slots map[string]*VersionFiles
}

// Analyse groups the entries of one directory into items. sourceParent and
// targetParent are the directory's paths relative to the source and target
// roots. Unreadable entries and entries that cannot form an item are
// counted and skipped.
func (a *Analyser) Analyse(ctx context.Context, sourceParent, targetParent string, entries []Entry) (*Result, error) {
	groups := make(map[string]*group)

	for i := range entries {
		if err := a.status.CheckStopping(ctx); err != nil {
			return nil, err
		}

		e := &entries[i]
		if !e.Readable {
			a.log.Warn("Skipping unreadable entry %s", e.Path)
			a.status.IncrementSourceCounter(status.UnreadableEntries)
			continue
		}

		var name metadata.Name
		switch {
		case e.Dir:
			name = metadata.Name{Base: e.Name}
			a.status.IncrementSourceCounter(status.DirectoriesScanned)
		default:
			name = metadata.ParseName(e.Name)
			if name.Metadata {
				a.status.IncrementSourceCounter(status.MetadataFilesScanned)
			} else {
				a.status.IncrementSourceCounter(status.FilesScanned)
			}
		}

		g, ok := groups[name.Base]
		if !ok {
			g = &group{base: name.Base, slots: make(map[string]*VersionFiles)}
			groups[name.Base] = g
		}
		key := name.Version.Key()
		s, ok := g.slots[key]
		if !ok {
			s = &VersionFiles{Number: name.Version}
			g.slots[key] = s
		}

		target := &s.Content
		if name.Metadata {
			target = &s.Metadata
		}
		if *target != nil {
			a.log.Warn("Ignoring %s: version %s of %s is already provided by %s", e.Path, name.Version, name.Base, (*target).Path)
			a.status.IncrementSourceCounter(status.SupersededEntries)
			continue
		}
		*target = e
	}

	bases := make([]string, 0, len(groups))
	for base := range groups {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	result := &Result{}
	for _, base := range bases {
		if err := a.status.CheckStopping(ctx); err != nil {
			return nil, err
		}

		it, err := a.buildItem(groups[base], sourceParent, targetParent)
		if err != nil {
			a.log.Warn("Skipping %s: %v", item.JoinPath(sourceParent, base), err)
			a.status.IncrementSourceCounter(status.UnreadableEntries)
			continue
		}
		if it.IsDirectory() {
			result.Directories = append(result.Directories, it)
		} else {
			result.Files = append(result.Files, it)
		}
	}
	return result, nil
}

func (a *Analyser) buildItem(g *group, sourceParent, targetParent string) (*item.Item, error) {
	slots := make([]*VersionFiles, 0, len(g.slots))
	for _, s := range g.slots {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Number.Cmp(slots[j].Number) < 0
	})

	directory := false
	for _, s := range slots {
		if s.Content != nil && s.Content.Dir {
			directory = true
		}
	}

	// Numbered versions supersede the unversioned entry. A directory is
	// never superseded: numbered slots stay attached as its versions.
	if !directory && len(slots) > 1 && slots[0].Number.IsZero() {
		for _, e := range []*Entry{slots[0].Content, slots[0].Metadata} {
			if e != nil {
				a.log.Warn("Ignoring unversioned %s: numbered versions of %s exist", e.Path, g.base)
				a.status.IncrementSourceCounter(status.SupersededEntries)
			}
		}
		slots = slots[1:]
	}

	versions := make([]item.Version, 0, len(slots))
	for _, s := range slots {
		versions = append(versions, a.BuildVersion(*s))
	}

	targetName := g.base
	if name := versions[len(versions)-1].Properties[metadata.KeyName]; name != "" {
		targetName = name
	}

	return item.New(g.base, targetName, directory, sourceParent, targetParent, versions)
}

// BuildVersion loads the metadata of one version and classifies its content.
// Metadata that cannot be loaded is counted as unreadable and ignored.
func (a *Analyser) BuildVersion(s VersionFiles) item.Version {
	v := item.Version{Number: s.Number}

	if s.Content != nil {
		v.ContentFile = s.Content.Path
		if !s.Content.Dir {
			v.Size = s.Content.Size
			v.Content = item.Streamed
			if a.inPlace {
				v.Content = item.InPlace
			}
		}
	}

	if s.Metadata != nil {
		v.MetadataFile = s.Metadata.Path
		md, err := a.loader.Load(s.Metadata.Path)
		if err != nil {
			a.log.Warn("Ignoring metadata of %s: %v", s.Metadata.Path, err)
			a.status.IncrementSourceCounter(status.UnreadableEntries)
		} else {
			v.Type = md.Type
			v.Aspects = md.Aspects
			v.Properties = md.Properties
		}
	}

	if v.Content == item.InPlace {
		if _, ok := v.InPlacePath(); !ok {
			props := make(map[string]string, len(v.Properties)+1)
			for k, val := range v.Properties {
				props[k] = val
			}
			props[item.ContentPropertyName] = v.ContentFile
			v.Properties = props
		}
	}
	return v
}
