package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/drivera73/alfresco-bulk-import/pkg/item"
)

const faultTimeFormat = "2006-01-02T15:04:05Z07:00"

// Fault is one problem found by a dry run
type Fault struct {
	Time    time.Time
	Message string
}

// DryRun collects the faults of one item, in general and per version.
type DryRun struct {
	item          *item.Item
	itemFaults    []Fault
	versions      []item.Number
	versionFaults map[string][]Fault
}

// NewDryRun creates an empty fault record for it
func NewDryRun(it *item.Item) *DryRun {
	return &DryRun{item: it, versionFaults: make(map[string][]Fault)}
}

// Item returns the item being validated
func (d *DryRun) Item() *item.Item {
	return d.item
}

// AddItemFault records a fault that is not specific to a version
func (d *DryRun) AddItemFault(format string, args ...interface{}) {
	d.itemFaults = append(d.itemFaults, Fault{Time: time.Now(), Message: fmt.Sprintf(format, args...)})
}

// AddVersionFault records a fault against version n
func (d *DryRun) AddVersionFault(n item.Number, format string, args ...interface{}) {
	key := n.Key()
	if _, ok := d.versionFaults[key]; !ok {
		d.versions = append(d.versions, n)
	}
	d.versionFaults[key] = append(d.versionFaults[key], Fault{Time: time.Now(), Message: fmt.Sprintf(format, args...)})
}

// HasFaults reports whether any fault was recorded
func (d *DryRun) HasFaults() bool {
	return len(d.itemFaults) > 0 || len(d.versions) > 0
}

// FaultCount is the total number of faults
func (d *DryRun) FaultCount() int {
	n := len(d.itemFaults)
	for _, f := range d.versionFaults {
		n += len(f)
	}
	return n
}

// ItemFaults returns the general faults
func (d *DryRun) ItemFaults() []Fault {
	return d.itemFaults
}

// FaultyVersions returns the versions with faults in the order first seen
func (d *DryRun) FaultyVersions() []item.Number {
	return d.versions
}

// VersionFaults returns the faults of version n
func (d *DryRun) VersionFaults(n item.Number) []Fault {
	return d.versionFaults[n.Key()]
}

// Report renders the faults as text
func (d *DryRun) Report() string {
	if !d.HasFaults() {
		return "No Faults"
	}

	var b strings.Builder
	rule := strings.Repeat("=", 40)
	fmt.Fprintf(&b, "Source Path: [%s]\n", d.item.SourcePath())
	fmt.Fprintf(&b, "Target Path: [%s]\n\n", d.item.TargetPath())

	if len(d.itemFaults) > 0 {
		fmt.Fprintf(&b, "General Faults:\n%s\n", rule)
		for _, f := range d.itemFaults {
			fmt.Fprintf(&b, "\t%s\t%s\n", f.Time.Format(faultTimeFormat), f.Message)
		}
		fmt.Fprintf(&b, "%s\n\n", rule)
	}

	if len(d.versions) > 0 {
		sub := strings.Repeat("=", 30)
		fmt.Fprintf(&b, "Version Faults:\n%s\n", rule)
		for _, n := range d.versions {
			fmt.Fprintf(&b, "\n\tVersion %s:\n\t%s\n", n, sub)
			for _, f := range d.versionFaults[n.Key()] {
				fmt.Fprintf(&b, "\t\t%s\t%s\n", f.Time.Format(faultTimeFormat), f.Message)
			}
			fmt.Fprintf(&b, "\t%s\n", sub)
		}
	}
	return b.String()
}
