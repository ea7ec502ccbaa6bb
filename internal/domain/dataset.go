package domain

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gopcua/opcua/ua"
)

// FieldDefinition describes one published variable of a dataset.
type FieldDefinition struct {
	Name                 string
	BuiltInType          ua.TypeID
	Source               string
	SamplingIntervalHint time.Duration
}

// MetaDataVersion identifies the shape of a dataset. Subscribers compare it
// against cached metadata to detect field list changes.
type MetaDataVersion struct {
	Major uint32
	Minor uint32
}

func (v MetaDataVersion) IsZero() bool { return v.Major == 0 && v.Minor == 0 }

// PublishedDataSet is an ordered list of fields sampled together.
type PublishedDataSet struct {
	Name            string
	ClassID         string
	Fields          []FieldDefinition
	MetaDataVersion MetaDataVersion
}

// DeriveMetaDataVersion computes a stable version from the field names and
// types. The minor version only covers names so that a type change bumps the
// major part while a rename bumps both.
func DeriveMetaDataVersion(fields []FieldDefinition) MetaDataVersion {
	major := xxhash.New()
	minor := xxhash.New()
	for _, f := range fields {
		_, _ = major.WriteString(f.Name)
		_, _ = major.WriteString("\x00")
		_, _ = major.WriteString(strconv.Itoa(int(f.BuiltInType)))
		_, _ = major.WriteString("\x00")
		_, _ = minor.WriteString(f.Name)
		_, _ = minor.WriteString("\x00")
	}
	return MetaDataVersion{
		Major: uint32(major.Sum64()),
		Minor: uint32(minor.Sum64()),
	}
}

// FieldIndex returns the position of the named field or -1.
func (d *PublishedDataSet) FieldIndex(name string) int {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// MetaDataMessage announces the field list of a dataset to subscribers.
type MetaDataMessage struct {
	PublisherID string
	WriterID    uint16
	WriterName  string
	DataSet     PublishedDataSet
}
